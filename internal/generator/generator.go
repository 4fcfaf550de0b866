// Package generator synthesizes chat work items and feeds them into the work
// queue from a single goroutine.
package generator

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/chatfire/internal/corpus"
	"github.com/torosent/chatfire/internal/message"
)

// DefaultProgressEvery is how often (in items) progress is logged.
const DefaultProgressEvery = 50_000

// Pusher is the producer side of the work queue.
type Pusher interface {
	Push(ctx context.Context, item message.WorkItem) error
}

// Options configure a Generator.
type Options struct {
	Total         int
	MinUserID     int
	MaxUserID     int
	MinRoomID     int
	MaxRoomID     int
	Distribution  Distribution
	Corpus        *corpus.Corpus
	RatePerSecond int // 0 means unlimited
	ArrivalModel  ArrivalModel
	Seed          int64
	ProgressEvery int
	Logger        *zap.Logger
	Now           func() time.Time // optional injection for tests
}

func (o *Options) normalize() {
	if o.Total < 0 {
		o.Total = 0
	}
	if o.MinUserID <= 0 {
		o.MinUserID = 1
	}
	if o.MaxUserID < o.MinUserID {
		o.MaxUserID = 100_000
		if o.MaxUserID < o.MinUserID {
			o.MaxUserID = o.MinUserID
		}
	}
	if o.MinRoomID <= 0 {
		o.MinRoomID = 1
	}
	if o.MaxRoomID < o.MinRoomID {
		o.MaxRoomID = 20
		if o.MaxRoomID < o.MinRoomID {
			o.MaxRoomID = o.MinRoomID
		}
	}
	if o.Distribution == (Distribution{}) {
		o.Distribution = DefaultDistribution
	}
	if o.Corpus == nil {
		o.Corpus = corpus.Default()
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = DefaultProgressEvery
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Generator produces exactly Total work items.
type Generator struct {
	opt   Options
	rnd   *rand.Rand
	pacer pacer
}

// New creates a generator. The random source is owned by the generator and
// must not be shared across goroutines.
func New(opt Options) *Generator {
	opt.normalize()
	rnd := rand.New(rand.NewSource(opt.Seed))
	return &Generator{
		opt:   opt,
		rnd:   rnd,
		pacer: newPacer(opt.ArrivalModel, opt.RatePerSecond, rand.New(rand.NewSource(opt.Seed+1))),
	}
}

// Next synthesizes one item.
func (g *Generator) Next() message.WorkItem {
	userID := g.opt.MinUserID + g.rnd.Intn(g.opt.MaxUserID-g.opt.MinUserID+1)
	roomID := g.opt.MinRoomID + g.rnd.Intn(g.opt.MaxRoomID-g.opt.MinRoomID+1)
	id := strconv.Itoa(userID)
	return message.WorkItem{
		UserID:    id,
		Username:  "user" + id,
		Message:   g.opt.Corpus.Pick(g.rnd),
		Timestamp: g.opt.Now().UTC().Format(message.TimestampLayout),
		Kind:      g.opt.Distribution.KindFor(g.rnd.Float64()),
		RoomID:    strconv.Itoa(roomID),
	}
}

// Run pushes Total items into q and returns how many were enqueued. A
// cancelled context or closed queue aborts generation early; the returned
// count then falls short of Total and err says why.
func (g *Generator) Run(ctx context.Context, q Pusher) (int, error) {
	log := g.opt.Logger
	start := time.Now()
	log.Debug("generator started", zap.Int("total", g.opt.Total), zap.Int("corpus_size", g.opt.Corpus.Len()))

	for i := 0; i < g.opt.Total; i++ {
		if g.pacer != nil {
			if err := g.pacer.Wait(ctx); err != nil {
				return g.aborted(i, err)
			}
		}
		if err := q.Push(ctx, g.Next()); err != nil {
			return g.aborted(i, err)
		}
		if (i+1)%g.opt.ProgressEvery == 0 {
			log.Info("generator progress", zap.Int("generated", i+1))
		}
	}

	log.Debug("generator completed",
		zap.Int("generated", g.opt.Total),
		zap.Duration("elapsed", time.Since(start)),
	)
	return g.opt.Total, nil
}

func (g *Generator) aborted(generated int, err error) (int, error) {
	g.opt.Logger.Warn("generator interrupted",
		zap.Int("generated", generated),
		zap.Int("requested", g.opt.Total),
		zap.Error(err),
	)
	return generated, fmt.Errorf("generator stopped after %d of %d items: %w", generated, g.opt.Total, err)
}
