package echo

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/Cargill/splinter-sub011/pkg/logging"
	"github.com/Cargill/splinter-sub011/pkg/wire"
)

// Sender forwards an encoded body to a peer service on the same circuit.
// handlerpool.Replier satisfies this.
type Sender interface {
	SendCircuitMessage(circuitID, recipientService, senderService, correlationID string, body []byte) error
}

// Runner is the active half of an echo service: once Prepare/Finalize
// have completed, it periodically sends a Request to every configured
// peer (the Go shape of the original's TimerFilter-driven request
// cadence), jittering the interval and occasionally simulating a send
// failure per Arguments.ErrorRate. It is started and stopped by
// whatever process hosts the service instance, independent of the
// lifecycle executor's one-shot Prepare/Finalize/Retire/Purge steps.
type Runner struct {
	circuitID string
	serviceID string
	args      Arguments
	sender    Sender
	log       logging.Logger
	rng       *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner builds a Runner for one service instance.
func NewRunner(circuitID, serviceID string, args Arguments, sender Sender, log logging.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		circuitID: circuitID,
		serviceID: serviceID,
		args:      args,
		sender:    sender,
		log:       log,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the send loop in the background.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.loop()
}

// Shutdown stops the send loop and waits for it to exit.
func (r *Runner) Shutdown() {
	r.cancel()
	r.wg.Wait()
}

func (r *Runner) loop() {
	defer r.wg.Done()

	if len(r.args.Peers) == 0 {
		return
	}
	for seq := 0; ; seq++ {
		select {
		case <-r.ctx.Done():
			return
		case <-time.After(r.nextDelay()):
			r.sendToPeers(seq)
		}
	}
}

func (r *Runner) nextDelay() time.Duration {
	base := r.args.Frequency
	if base <= 0 {
		base = DefaultFrequency
	}
	if r.args.Jitter <= 0 {
		return base
	}
	offset := time.Duration(r.rng.Int63n(int64(2*r.args.Jitter))) - r.args.Jitter
	delay := base + offset
	if delay < 0 {
		delay = 0
	}
	return delay
}

func (r *Runner) sendToPeers(seq int) {
	for _, peer := range r.args.Peers {
		if r.args.ErrorRate > 0 && r.rng.Float32() < r.args.ErrorRate {
			r.log.Debugf("echo: %s simulating a dropped request to %s (seq=%d)", r.serviceID, peer, seq)
			continue
		}
		correlationID := fmt.Sprintf("%s-%d", r.serviceID, seq)
		body, err := wire.EncodeValue(Message{
			Kind:    MessageRequest,
			Request: &Request{Text: "ping", CorrelationId: correlationID},
		})
		if err != nil {
			r.log.Errorf("echo: encode request: %v", err)
			continue
		}
		if err := r.sender.SendCircuitMessage(r.circuitID, peer, r.serviceID, correlationID, body); err != nil {
			r.log.Warnf("echo: send request %s -> %s: %v", r.serviceID, peer, err)
		}
	}
}
