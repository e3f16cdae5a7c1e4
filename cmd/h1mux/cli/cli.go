// Package cli is a small subcommand dispatcher.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// ErrUsage is returned when the arguments don't fit the command.
var ErrUsage = errors.New("usage error")

// Command is a node in the command tree. A command with subcommands
// dispatches on its first argument; a leaf runs Run with the rest.
type Command struct {
	// Usage is the one line usage message. The first word is the
	// command name.
	Usage string

	// Short is the description shown in the parent's help.
	Short string

	// Long is the description shown in this command's help.
	Long string

	// Args validates the positional arguments before Run.
	Args PositionalArgs

	// Flags are parsed before Args. Values are left on the flag set for
	// Run to read.
	Flags *flag.FlagSet

	Run func(ctx context.Context, args []string)

	commands []*Command
	parent   *Command
}

type PositionalArgs func(cmd *Command, args []string) error

func MinArgs(n int) PositionalArgs {
	return func(cmd *Command, args []string) error {
		if len(args) < n {
			return fmt.Errorf("%w: %s requires at least %d arg(s), only received %d", ErrUsage, cmd.Name(), n, len(args))
		}
		return nil
	}
}

func MaxArgs(n int) PositionalArgs {
	return func(cmd *Command, args []string) error {
		if len(args) > n {
			return fmt.Errorf("%w: %s accepts at most %d arg(s), received %d", ErrUsage, cmd.Name(), n, len(args))
		}
		return nil
	}
}

func ExactArgs(n int) PositionalArgs {
	return func(cmd *Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("%w: %s accepts %d arg(s), received %d", ErrUsage, cmd.Name(), n, len(args))
		}
		return nil
	}
}

// Name is the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

func (c *Command) AddCommand(sub *Command) {
	sub.parent = c
	c.commands = append(c.commands, sub)
}

func (c *Command) find(name string) *Command {
	for _, sub := range c.commands {
		if sub.Name() == name {
			return sub
		}
	}
	return nil
}

func (c *Command) path() string {
	if c.parent == nil {
		return c.Name()
	}
	return c.parent.path() + " " + c.Name()
}

// WriteHelp writes the usage of c and its subcommands to w.
func (c *Command) WriteHelp(w io.Writer) {
	if c.Long != "" {
		fmt.Fprintf(w, "%s\n\n", strings.TrimSpace(c.Long))
	} else if c.Short != "" {
		fmt.Fprintf(w, "%s\n\n", c.Short)
	}
	usage := c.Usage
	if c.parent != nil {
		usage = c.parent.path() + " " + usage
	}
	fmt.Fprintf(w, "Usage:\n  %s\n", usage)
	if len(c.commands) > 0 {
		fmt.Fprintf(w, "\nCommands:\n")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, sub := range c.commands {
			fmt.Fprintf(tw, "  %s\t%s\n", sub.Name(), sub.Short)
		}
		tw.Flush()
	}
	if c.Flags != nil {
		fmt.Fprintf(w, "\nFlags:\n")
		c.Flags.SetOutput(w)
		c.Flags.PrintDefaults()
	}
}

// Execute finds the command args select under root and runs it. Help is
// written to stderr when no runnable command is selected.
func Execute(ctx context.Context, root *Command, args []string) error {
	cmd := root
	for len(args) > 0 {
		if args[0] == "-h" || args[0] == "-help" || args[0] == "--help" || args[0] == "help" {
			cmd.WriteHelp(os.Stderr)
			return nil
		}
		sub := cmd.find(args[0])
		if sub == nil {
			break
		}
		cmd, args = sub, args[1:]
	}
	if cmd.Run == nil {
		cmd.WriteHelp(os.Stderr)
		if len(args) > 0 {
			return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
		}
		return nil
	}
	if cmd.Flags != nil {
		if err := cmd.Flags.Parse(args); err != nil {
			return fmt.Errorf("%w: %s", ErrUsage, err)
		}
		args = cmd.Flags.Args()
	}
	if cmd.Args != nil {
		if err := cmd.Args(cmd, args); err != nil {
			return err
		}
	}
	cmd.Run(ctx, args)
	return nil
}
