package emit

import (
	"sort"

	"go.uber.org/zap"
)

// ZapEmitter renders events as structured logs.
//
//	logger, _ := zap.NewProduction()
//	emitter := emit.NewZapEmitter(logger)
//
// Step events log at Info, errors at Error. Channel values are logged by
// name only (not content) to keep negotiation payloads out of log storage;
// enable WithChannelValues for development.
type ZapEmitter struct {
	logger        *zap.Logger
	channelValues bool
}

// NewZapEmitter creates an emitter over logger. A nil logger falls back to
// zap.NewNop.
func NewZapEmitter(logger *zap.Logger) *ZapEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapEmitter{logger: logger}
}

// WithChannelValues makes step events log full channel values instead of
// channel names. Intended for development.
func (z *ZapEmitter) WithChannelValues() *ZapEmitter {
	return &ZapEmitter{logger: z.logger, channelValues: true}
}

// Emit logs the event.
func (z *ZapEmitter) Emit(event Event) {
	fields := []zap.Field{
		zap.String("run_id", event.RunID),
		zap.Int("seq", event.Seq),
		zap.String("kind", string(event.Kind)),
	}
	if event.Step != "" {
		fields = append(fields, zap.String("step", event.Step))
	}

	if len(event.Channels) > 0 {
		if z.channelValues {
			fields = append(fields, zap.Any("channels", event.Channels))
		} else {
			names := make([]string, 0, len(event.Channels))
			for name := range event.Channels {
				names = append(names, name)
			}
			sort.Strings(names)
			fields = append(fields, zap.Strings("channels", names))
		}
	}

	switch event.Kind {
	case KindError:
		fields = append(fields, zap.String("reason", event.Reason))
		z.logger.Error("run failed", fields...)
	case KindSuspended:
		z.logger.Info("run suspended", fields...)
	case KindDone:
		z.logger.Info("run completed", fields...)
	default:
		z.logger.Info("step completed", fields...)
	}
}
