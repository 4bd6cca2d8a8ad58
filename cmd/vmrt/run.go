package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chazu/vmrt/host"
	"github.com/chazu/vmrt/image"
	"github.com/chazu/vmrt/profile"
	"github.com/chazu/vmrt/vm"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		withProfile bool
		database    string
		trace       bool
	)
	cmd := &cobra.Command{
		Use:   "run IMAGE ENTRY [ARGS...]",
		Short: "Invoke an exported routine",
		Long: "Invoke the routine ENTRY (an exported name or a code offset) of IMAGE.\n" +
			"Arguments are parsed according to the routine's declared parameter types.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			opts := cfg.Options()
			if withProfile {
				opts.Profile = true
			}
			if trace {
				opts.Trace = true
			}

			img, v, err := openImage(args[0], opts)
			if err != nil {
				return err
			}
			entry, err := resolveEntry(img, args[1])
			if err != nil {
				return err
			}
			r, err := v.Routine(entry)
			if err != nil {
				return err
			}
			callArgs, err := parseArgs(r, args[2:])
			if err != nil {
				return err
			}

			res, invokeErr := v.Invoke(callArgs, entry)
			if invokeErr == nil {
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, formatResult(res))
				for i, p := range r.Params {
					if p.ByRef {
						fmt.Fprintf(out, "arg %d = %s\n", i, formatResult(callArgs[i]))
					}
				}
			}

			if p := v.Profiler(); p != nil {
				path := cfg.Profile.Database
				if database != "" {
					path = database
				}
				if err := saveProfile(cmd.Context(), path, args[0], entry, p.Snapshot()); err != nil {
					return err
				}
			}
			if invokeErr != nil {
				return describeFault(invokeErr)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withProfile, "profile", false, "record routine and opcode counts")
	cmd.Flags().StringVar(&database, "db", "", "profile database (default from configuration)")
	cmd.Flags().BoolVar(&trace, "trace", false, "log every executed instruction")
	return cmd
}

// openImage loads an image and creates a VM over a registry built from it.
func openImage(path string, opts vm.Options) (*image.Image, *vm.VM, error) {
	img, err := image.Load(path)
	if err != nil {
		return nil, nil, err
	}
	reg, err := host.FromImage(img, host.StandardBuiltins())
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, vm.New(img.Code, reg, opts), nil
}

func resolveEntry(img *image.Image, s string) (int, error) {
	if off, ok := img.Entry(s); ok {
		return off, nil
	}
	off, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("no exported routine %q", s)
	}
	return off, nil
}

// parseArgs converts command-line arguments to the routine's parameter
// types. Omitted by-ref parameters start at their zero value so out
// parameters can be written and reported.
func parseArgs(r *vm.Routine, args []string) ([]vm.Value, error) {
	if len(args) > len(r.Params) {
		return nil, fmt.Errorf("routine %04d takes %d arguments, got %d", r.Entry, len(r.Params), len(args))
	}
	values := make([]vm.Value, len(r.Params))
	for i, p := range r.Params {
		if i >= len(args) {
			if p.ByRef {
				values[i] = vm.Zero(p.Type)
			}
			continue
		}
		v, err := parseArg(p.Type, args[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		values[i] = v
	}
	return values, nil
}

func parseArg(t vm.Type, s string) (vm.Value, error) {
	if t == nil {
		return vm.FromString(s), nil
	}
	k := t.Kind()
	if k == vm.KindEnum && t.Elem() != nil {
		k = t.Elem().Kind()
	}
	switch {
	case k == vm.KindBool:
		b, err := strconv.ParseBool(s)
		return vm.FromBool(b), err
	case k.IsFloat():
		f, err := strconv.ParseFloat(s, 64)
		return vm.Convert(vm.FromFloat64(f), t), err
	case k.IsUnsigned():
		n, err := strconv.ParseUint(s, 0, 64)
		return vm.Convert(vm.FromUint64(n), t), err
	case k.IsInteger():
		n, err := strconv.ParseInt(s, 0, 64)
		return vm.Convert(vm.FromInt64(n), t), err
	case k == vm.KindString:
		return vm.FromString(s), nil
	}
	return vm.Void, fmt.Errorf("cannot pass %s from the command line", t.Name())
}

func formatResult(v vm.Value) string {
	if v.Kind() == vm.KindString && !v.IsNull() {
		return v.Str()
	}
	return v.String()
}

// describeFault adds the managed exception message to an unhandled fault.
func describeFault(err error) error {
	var f *vm.Fault
	if errors.As(err, &f) && !f.Object.IsNull() {
		return fmt.Errorf("unhandled exception: %s: %w", host.Message(f.Object), err)
	}
	return err
}

func saveProfile(ctx context.Context, path, imagePath string, entry int, snap vm.Snapshot) error {
	store, err := profile.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	id, err := store.Save(ctx, imagePath, entry, snap)
	if err != nil {
		return err
	}
	log.Infof("saved profile %s to %s", id, path)
	return nil
}
