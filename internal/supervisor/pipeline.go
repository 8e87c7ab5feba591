package supervisor

import (
	"context"
	"hash/fnv"
	"time"

	"golang.org/x/sync/errgroup"

	"flowscope/internal/flow"
	"flowscope/internal/metrics"
	"flowscope/internal/quote"
	"flowscope/internal/spot"
)

const (
	// numShards partitions contracts across aggregator goroutines. Each shard
	// owns its aggregator, so same-contract trades never race.
	numShards = 8

	shardQueue = 1024
	outQueue   = 4096

	// flushInterval bounds how long a quiet contract's trades sit in the
	// window past their release point.
	flushInterval = 100 * time.Millisecond
)

// pipeline runs the aggregation and classification stage between the farm
// and the sink. Trades enter via Submit, classified trades leave via Out.
type pipeline struct {
	aggCfg     flow.AggregatorConfig
	classifier *flow.Classifier
	quotes     *quote.Cache
	spots      *spot.Cache
	counters   *metrics.Counters

	shards []chan flow.RawTrade
	out    chan flow.ClassifiedTrade
	done   chan struct{} // closed once every shard has drained
}

func newPipeline(aggCfg flow.AggregatorConfig, quotes *quote.Cache, spots *spot.Cache, counters *metrics.Counters) *pipeline {
	p := &pipeline{
		aggCfg:     aggCfg,
		classifier: flow.NewClassifier(),
		quotes:     quotes,
		spots:      spots,
		counters:   counters,
		out:        make(chan flow.ClassifiedTrade, outQueue),
		done:       make(chan struct{}),
	}
	for i := 0; i < numShards; i++ {
		p.shards = append(p.shards, make(chan flow.RawTrade, shardQueue))
	}
	return p
}

// Submit routes a trade to its contract's shard. Blocks when the shard queue
// is full, which is the ingestion back-pressure point. Once the shards have
// stopped the trade is discarded instead, so a caller mid-send during
// shutdown can never hang on a queue nothing reads.
func (p *pipeline) Submit(t flow.RawTrade) {
	select {
	case p.shards[shardFor(t.Symbol)] <- t:
	case <-p.done:
	}
}

// Out is the classified trade stream. Closed after Run returns, once every
// shard has drained.
func (p *pipeline) Out() <-chan flow.ClassifiedTrade {
	return p.out
}

// Run processes until ctx is cancelled, then drains every shard's window so
// buffered trades still publish exactly once.
func (p *pipeline) Run(ctx context.Context) error {
	g := new(errgroup.Group)
	for i := 0; i < numShards; i++ {
		g.Go(func() error {
			p.runShard(ctx, i)
			return nil
		})
	}
	err := g.Wait()
	close(p.done)
	close(p.out)
	return err
}

func (p *pipeline) runShard(ctx context.Context, i int) {
	agg := flow.NewAggregator(p.aggCfg)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Consume whatever is already queued, then flush the window.
			for {
				select {
				case t := <-p.shards[i]:
					p.emit(agg.Process(t))
				default:
					p.emit(agg.Drain())
					return
				}
			}
		case t := <-p.shards[i]:
			p.emit(agg.Process(t))
		case <-ticker.C:
			p.emit(agg.Flush())
		}
	}
}

// emit classifies released trades and forwards them downstream. The send
// blocks: the sink drains Out until it is closed, so back-pressure from a
// slow store propagates here and no trade is lost mid-pipeline.
func (p *pipeline) emit(ems []flow.Emission) {
	for _, em := range ems {
		q, _ := p.quotes.Lookup(em.Trade.Symbol)
		ct := p.classifier.Classify(em.Trade, em.Verdict, q)

		if p.spots != nil {
			if spotPx, pct, ok := p.spots.PercentOTM(em.Trade.Contract); ok {
				ct.SpotPrice = spotPx
				ct.PercentOTM = pct
			}
		}

		switch ct.Type {
		case flow.TypeSweep:
			p.counters.Sweeps.Add(1)
		case flow.TypeBlock:
			p.counters.Blocks.Add(1)
		}

		p.out <- ct
	}
}

func shardFor(symbol string) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32() % numShards)
}
