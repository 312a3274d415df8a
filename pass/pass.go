// Package pass implements VTIL's optimizer pass framework: a pluggable
// interface two shapes of pass can satisfy (per-block, or whole-routine
// cross-block), a depth-layered parallel driver, and a fixed-point runner
// that repeats a pipeline until a full round makes no further progress.
package pass

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum/go-ethereum/log"

	"github.com/xbl2022/VTIL-Core/ir"
)

var tracer = otel.Tracer("vtil/pass")

// ExecutionOrder controls how a per-block Stage is spread across the
// routine's blocks.
type ExecutionOrder uint8

const (
	// Serial runs the pass over every block, one at a time, in whatever
	// order Routine.ForEach yields them.
	Serial ExecutionOrder = iota
	// Parallel runs the pass across CFG depth layers (see
	// Routine.GetDepthOrderedList): blocks within one layer run
	// concurrently, layers run one after another, so a pass never runs on
	// a block before every block that can reach it in fewer steps has.
	Parallel
)

// Stage is one entry in a Pipeline. Exactly one of RunBlock or RunRoutine
// must be set: RunBlock makes this a per-block pass (spread across the
// routine per Order), RunRoutine makes it a whole-routine cross-block pass
// (VTIL's "xpass") invoked once per round.
type Stage struct {
	Name       string
	Order      ExecutionOrder
	RunBlock   func(rtn *ir.Routine, blk *ir.BasicBlock) int
	RunRoutine func(rtn *ir.Routine) int
}

// Pipeline is an ordered list of stages driven to a fixed point.
type Pipeline struct {
	Stages   []Stage
	MaxRounds int
}

// NewPipeline builds a pipeline with a sane default round cap; optimizer
// pipelines are expected to converge in a handful of rounds, and a cap
// guards against a misbehaving pass that never reports zero.
func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{Stages: stages, MaxRounds: 64}
}

// Run drives the pipeline to a fixed point: it keeps repeating the full
// stage list until one round produces zero total optimizations across
// every stage, or MaxRounds is hit. Returns the total optimization count
// across every round.
func (p *Pipeline) Run(ctx context.Context, rtn *ir.Routine) (int, error) {
	total := 0
	for round := 0; p.MaxRounds <= 0 || round < p.MaxRounds; round++ {
		roundCount, err := p.runOnce(ctx, rtn)
		if err != nil {
			return total, err
		}
		total += roundCount
		if roundCount == 0 {
			return total, nil
		}
	}
	log.Warn("pass pipeline did not converge", "max_rounds", p.MaxRounds, "total", total)
	return total, nil
}

func (p *Pipeline) runOnce(ctx context.Context, rtn *ir.Routine) (int, error) {
	total := 0
	for _, stage := range p.Stages {
		n, err := runStage(ctx, rtn, stage)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func runStage(ctx context.Context, rtn *ir.Routine, stage Stage) (int, error) {
	ctx, span := tracer.Start(ctx, "vtil.pass."+stage.Name)
	defer span.End()

	var count int
	var err error
	if stage.RunRoutine != nil {
		count = stage.RunRoutine(rtn)
	} else {
		count, err = runBlockStage(ctx, rtn, stage)
	}

	span.SetAttributes(
		attribute.String("pass.name", stage.Name),
		attribute.Int("pass.block_count", rtn.NumBlocks()),
		attribute.Int("pass.opt_count", count),
	)
	log.Debug("pass finished", "name", stage.Name, "opt_count", count)
	return count, err
}

func runBlockStage(ctx context.Context, rtn *ir.Routine, stage Stage) (int, error) {
	if stage.Order == Serial {
		total := 0
		rtn.ForEach(func(blk *ir.BasicBlock) bool {
			total += stage.RunBlock(rtn, blk)
			return true
		})
		return total, nil
	}
	return runParallel(ctx, rtn, stage)
}

func runParallel(ctx context.Context, rtn *ir.Routine, stage Stage) (int, error) {
	layers := layerize(rtn.GetDepthOrderedList(true))
	total := 0
	for _, layer := range layers {
		g, gctx := errgroup.WithContext(ctx)
		counts := make([]int, len(layer))
		for i, blk := range layer {
			i, blk := i, blk
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				counts[i] = stage.RunBlock(rtn, blk)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return total, err
		}
		for _, c := range counts {
			total += c
		}
	}
	return total, nil
}

// layerize groups a depth-ordered placement list into slices of blocks
// sharing the same depth, ordered by increasing depth.
func layerize(placements []ir.DepthPlacement) [][]*ir.BasicBlock {
	byDepth := map[int][]*ir.BasicBlock{}
	maxDepth := 0
	for _, p := range placements {
		byDepth[p.LevelDepth] = append(byDepth[p.LevelDepth], p.Block)
		if p.LevelDepth > maxDepth {
			maxDepth = p.LevelDepth
		}
	}
	layers := make([][]*ir.BasicBlock, 0, maxDepth+1)
	for d := 0; d <= maxDepth; d++ {
		if blocks, ok := byDepth[d]; ok {
			layers = append(layers, blocks)
		}
	}
	return layers
}
