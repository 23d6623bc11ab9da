// Package hosting runs a service host from a console process.
package hosting

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/kbirk/svchost/pkg/host"
	"github.com/kbirk/svchost/pkg/log"
)

// Host is the part of *host.Host a launcher drives.
type Host interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Abort()
	State() host.State
}

type Launcher struct {
	Name   string
	Host   Host
	Out    io.Writer
	Err    io.Writer
	Logger log.Logger
}

var (
	red   = color.New(color.FgRed, color.Bold).SprintFunc()
	green = color.New(color.FgGreen, color.Bold).SprintFunc()
	white = color.New(color.FgWhite, color.Bold).SprintFunc()
)

func (l *Launcher) out() io.Writer {
	if l.Out == nil {
		return os.Stdout
	}
	return l.Out
}

func (l *Launcher) err() io.Writer {
	if l.Err == nil {
		return os.Stderr
	}
	return l.Err
}

func (l *Launcher) logDebug(msg string) {
	if l.Logger != nil {
		l.Logger.Debug(msg)
	}
}

// Launch opens the host and keeps it open until ctx is done. The host is
// then closed unless it is already Closed or Faulted; a faulted host is
// aborted.
func (l *Launcher) Launch(ctx context.Context) error {
	if err := l.Host.Open(ctx); err != nil {
		fmt.Fprintf(l.err(), "%s%s : %v\n", red("ERROR: "), l.Name, err)
		l.shutdown()
		return err
	}

	fmt.Fprintf(l.out(), "%s : %s\n", white(l.Name), green("Service Host Running..."))

	<-ctx.Done()

	if err := l.shutdown(); err != nil {
		fmt.Fprintf(l.err(), "%s%s : %v\n", red("ERROR: "), l.Name, err)
		return err
	}
	fmt.Fprintf(l.out(), "%s : %s\n", white(l.Name), green("Service Host Stopped"))
	return nil
}

func (l *Launcher) shutdown() error {
	switch l.Host.State() {
	case host.Closed:
		return nil
	case host.Faulted:
		l.logDebug(fmt.Sprintf("Aborting faulted host %s", l.Name))
		l.Host.Abort()
		return nil
	}
	if err := l.Host.Close(context.Background()); err != nil {
		l.Host.Abort()
		return err
	}
	return nil
}
