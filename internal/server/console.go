package server

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// QuitCommand is the console line that requests shutdown.
const QuitCommand = "q"

// ConsoleService reads operator commands line by line and requests shutdown
// when QuitCommand is entered. End of input is not a shutdown request, so a
// relay started without a terminal keeps running.
type ConsoleService struct {
	in     io.Reader
	cancel func()
	logger *zap.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewConsoleService creates a console reading from in that calls cancel on quit.
//
// Precondition: in, cancel and logger must be non-nil.
func NewConsoleService(in io.Reader, cancel func(), logger *zap.Logger) *ConsoleService {
	return &ConsoleService{
		in:     in,
		cancel: cancel,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start reads commands until quit, end of input, or Stop.
// A read error is logged and ends the console without failing the process.
func (c *ConsoleService) Start() error {
	c.logger.Info("console ready", zap.String("quit_command", QuitCommand))

	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		select {
		case <-c.done:
			return nil
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case QuitCommand:
			c.logger.Info("quit requested from console")
			c.cancel()
			return nil
		default:
			c.logger.Info("unknown console command",
				zap.String("input", line),
				zap.String("quit_command", QuitCommand),
			)
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("reading console input", zap.Error(err))
		return nil
	}
	c.logger.Debug("console input closed")
	return nil
}

// Stop makes Start return after the next line. A read already blocked on the
// underlying reader is not interrupted.
func (c *ConsoleService) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}
