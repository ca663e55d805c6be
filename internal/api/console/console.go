// Package console is the line-oriented operator interface on stdin.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go-arbor/internal/domain"
	"go-arbor/internal/service"
)

const defaultHeartbeat = time.Second

// ErrExit is returned by Run when the operator typed exit.
var ErrExit = errors.New("console: exit requested")

type Console struct {
	svc service.TreeService
	in  io.Reader
	out io.Writer
	mu  sync.Mutex
}

func New(svc service.TreeService, in io.Reader, out io.Writer) *Console {
	return &Console{svc: svc, in: in, out: out}
}

// Run reads commands until exit, end of input or ctx is done. Command
// errors are printed and never stop the loop.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.Exec(ctx, line); errors.Is(err, ErrExit) {
				return ErrExit
			}
		}
	}
}

// Exec runs a single command line.
func (c *Console) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	var err error
	switch cmd, args := fields[0], fields[1:]; cmd {
	case "spawn", "create":
		err = c.spawn(ctx, args)
	case "run", "exec":
		err = c.run(ctx, args)
	case "remove":
		err = c.remove(ctx, args)
	case "status":
		err = c.status(ctx, args)
	case "heartbeat":
		err = c.heartbeat(args)
	case "print":
		c.print()
	case "exit":
		c.println("Exiting...")
		return ErrExit
	default:
		c.println("invalid command")
		return nil
	}
	if err != nil {
		c.println("Error: " + err.Error())
	}
	return err
}

func (c *Console) spawn(ctx context.Context, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	res, err := c.svc.SpawnWorker(ctx, id)
	switch {
	case errors.Is(err, domain.ErrAlreadyExists):
		return fmt.Errorf("node %d already exists", id)
	case errors.Is(err, domain.ErrUnavailable):
		return fmt.Errorf("parent node %d is unavailable", res.Parent)
	case err != nil:
		return err
	}
	if res.Pending {
		c.println(fmt.Sprintf("Pending: node %d not confirmed yet", id))
		return nil
	}
	c.println(fmt.Sprintf("OK: %d", res.PID))
	return nil
}

func (c *Console) run(ctx context.Context, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return errors.New("usage: run <id> <n> <v1..vn>")
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 0 || n != len(args)-2 {
		return fmt.Errorf("expected %s values", args[1])
	}
	values := make([]float64, n)
	for i, raw := range args[2:] {
		if values[i], err = strconv.ParseFloat(raw, 64); err != nil {
			return fmt.Errorf("bad value %q", raw)
		}
	}

	res, err := c.svc.RunJob(ctx, id, values)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("node %d doesn't exist", id)
	case errors.Is(err, domain.ErrUnavailable):
		return fmt.Errorf("node %d is unavailable", id)
	case err != nil:
		return err
	}
	c.println(fmt.Sprintf("OK: response from node %d is %s", res.WorkerID, strconv.FormatFloat(res.Value, 'g', -1, 64)))
	return nil
}

func (c *Console) remove(ctx context.Context, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	removed, err := c.svc.RemoveWorker(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("node %d doesn't exist", id)
	case err != nil:
		return err
	}
	c.println(fmt.Sprintf("OK: removed %d node(s)", len(removed)))
	return nil
}

func (c *Console) status(ctx context.Context, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	alive, err := c.svc.Status(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("node %d doesn't exist", id)
	}
	if err != nil {
		return err
	}
	if alive {
		c.println("OK")
	} else {
		c.println(fmt.Sprintf("Node %d is unavailable", id))
	}
	return nil
}

func (c *Console) heartbeat(args []string) error {
	interval := defaultHeartbeat
	if len(args) > 0 {
		ms, err := strconv.Atoi(args[0])
		if err != nil || ms <= 0 {
			return fmt.Errorf("bad heartbeat interval %q", args[0])
		}
		interval = time.Duration(ms) * time.Millisecond
	}
	state := c.svc.ToggleHeartbeat(interval)
	if state.Enabled {
		c.println(fmt.Sprintf("Heartbeat enabled every %dms", state.IntervalMs))
	} else {
		c.println("Heartbeat disabled")
	}
	return nil
}

func (c *Console) print() {
	rendered := c.svc.Topology().Rendered
	if rendered == "" {
		c.println("(empty)")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	io.WriteString(c.out, rendered)
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}

func parseID(args []string) (domain.NodeID, error) {
	if len(args) == 0 {
		return 0, errors.New("missing node id")
	}
	n, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad node id %q", args[0])
	}
	return domain.NodeID(n), nil
}
