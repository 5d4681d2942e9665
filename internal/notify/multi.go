package notify

import (
	"context"

	"go.uber.org/multierr"
)

// Multi fans one event out to several sinks. Every sink is attempted
// even when an earlier one fails; the errors come back combined.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) MessageBurned(ctx context.Context, ev BurnEvent) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.MessageBurned(ctx, ev))
	}
	return err
}
