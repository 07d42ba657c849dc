// Package orchestrator fans a downloaded video out into one encoding request
// per configured rendition.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"transcoder/internal/broker"
	"transcoder/internal/contracts"
	"transcoder/internal/logging"
	"transcoder/internal/services"
	"transcoder/internal/stage"
)

// Orchestrator handles video downloaded messages.
type Orchestrator struct {
	ladder    []contracts.EncodingSpec
	publisher broker.Publisher
	logger    *slog.Logger
}

// New returns an orchestrator publishing one request per ladder entry.
func New(ladder []contracts.EncodingSpec, publisher broker.Publisher, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		ladder:    append([]contracts.EncodingSpec(nil), ladder...),
		publisher: publisher,
	}
	o.SetLogger(logger)
	return o
}

func (o *Orchestrator) Name() string { return contracts.StageOrchestrator }

func (o *Orchestrator) SetLogger(logger *slog.Logger) {
	o.logger = logging.NewComponentLogger(logger, contracts.StageOrchestrator)
}

func (o *Orchestrator) Handle(ctx context.Context, body []byte) error {
	msg, err := stage.Decode[contracts.VideoDownloaded](o.Name(), body)
	if err != nil {
		return err
	}
	return o.RequestEncodings(ctx, msg)
}

// RequestEncodings publishes one encoding request per ladder entry, in ladder
// order. Publishes are not atomic as a group: when one fails the error is
// returned and the whole message is retried, so renditions requested before
// the failure are requested again.
func (o *Orchestrator) RequestEncodings(ctx context.Context, msg contracts.VideoDownloaded) error {
	if len(o.ladder) == 0 {
		return services.Wrap(services.ErrConfiguration, o.Name(), "request encodings", "encoding ladder is empty", nil)
	}
	ctx = services.WithVideoID(ctx, msg.VideoID)
	logger := logging.WithContext(ctx, o.logger)

	for i, spec := range o.ladder {
		request := contracts.VideoEncodingRequested{
			VideoID:        msg.VideoID,
			Location:       msg.Location,
			VideoContainer: msg.VideoContainer,
			Encoding:       spec,
		}
		if err := o.publisher.Publish(ctx, contracts.RoutingKeyVideoEncodingRequested, request); err != nil {
			return fmt.Errorf("request %s (%d of %d): %w", spec.ID, i+1, len(o.ladder), err)
		}
		logger.Debug("encoding requested",
			logging.String(logging.FieldEncodingID, string(spec.ID)),
			logging.String(logging.FieldRoutingKey, contracts.RoutingKeyVideoEncodingRequested),
		)
	}

	logger.Info("encodings requested",
		logging.Int("renditions", len(o.ladder)),
		logging.String("location", msg.Location),
	)
	return nil
}
