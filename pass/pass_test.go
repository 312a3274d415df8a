package pass

import (
	"context"
	"sync"
	"testing"

	"github.com/xbl2022/VTIL-Core/ir"
)

func linearRoutine(t *testing.T, n int) *ir.Routine {
	t.Helper()
	rtn := ir.NewRoutine(ir.DefaultCallConvention)
	var prev *ir.BasicBlock
	for i := 0; i < n; i++ {
		blk, created := rtn.CreateBlock(uint64(i+1), prev)
		if !created && i > 0 {
			t.Fatalf("block %d should be newly created", i)
		}
		prev = blk
	}
	return rtn
}

func TestPipelineRunStopsAtFirstZeroRound(t *testing.T) {
	rtn := linearRoutine(t, 1)

	var calls int
	remaining := 3
	p := NewPipeline(Stage{
		Name: "drain",
		RunRoutine: func(rtn *ir.Routine) int {
			calls++
			if remaining == 0 {
				return 0
			}
			remaining--
			return 1
		},
	})

	total, err := p.Run(context.Background(), rtn)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if calls != 4 {
		t.Fatalf("RunRoutine invoked %d times, want 4 (3 productive rounds + 1 confirming round)", calls)
	}
}

func TestPipelineRunHonorsMaxRounds(t *testing.T) {
	rtn := linearRoutine(t, 1)

	p := NewPipeline(Stage{
		Name:       "never_converges",
		RunRoutine: func(rtn *ir.Routine) int { return 1 },
	})
	p.MaxRounds = 5

	total, err := p.Run(context.Background(), rtn)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if total != 5 {
		t.Fatalf("total = %d, want 5 (capped by MaxRounds)", total)
	}
}

func TestPipelineRunSerialVisitsEveryBlock(t *testing.T) {
	rtn := linearRoutine(t, 3)

	var mu sync.Mutex
	visited := map[uint64]bool{}
	p := NewPipeline(Stage{
		Name:  "mark",
		Order: Serial,
		RunBlock: func(rtn *ir.Routine, blk *ir.BasicBlock) int {
			mu.Lock()
			visited[blk.EntryVIP] = true
			mu.Unlock()
			return 0
		},
	})

	total, err := p.Run(context.Background(), rtn)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if total != 0 {
		t.Fatalf("total = %d, want 0", total)
	}
	if len(visited) != 3 {
		t.Fatalf("visited %d blocks, want 3", len(visited))
	}
}

func TestPipelineRunParallelVisitsEveryBlockOncePerRound(t *testing.T) {
	rtn := linearRoutine(t, 4)

	var mu sync.Mutex
	counts := map[uint64]int{}
	remaining := 1
	p := NewPipeline(Stage{
		Name:  "count",
		Order: Parallel,
		RunBlock: func(rtn *ir.Routine, blk *ir.BasicBlock) int {
			mu.Lock()
			counts[blk.EntryVIP]++
			mu.Unlock()
			if remaining > 0 {
				remaining--
				return 1
			}
			return 0
		},
	})

	if _, err := p.Run(context.Background(), rtn); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(counts) != 4 {
		t.Fatalf("visited %d distinct blocks, want 4", len(counts))
	}
	for vip, c := range counts {
		if c != 2 {
			t.Errorf("block %#x visited %d times, want 2 (one productive round, one confirming round)", vip, c)
		}
	}
}

func TestLayerizeGroupsByDepth(t *testing.T) {
	placements := []ir.DepthPlacement{
		{LevelDepth: 0, Block: &ir.BasicBlock{EntryVIP: 1}},
		{LevelDepth: 1, Block: &ir.BasicBlock{EntryVIP: 2}},
		{LevelDepth: 1, Block: &ir.BasicBlock{EntryVIP: 3}},
		{LevelDepth: 2, Block: &ir.BasicBlock{EntryVIP: 4}},
	}
	layers := layerize(placements)
	if len(layers) != 3 {
		t.Fatalf("layerize returned %d layers, want 3", len(layers))
	}
	if len(layers[0]) != 1 || len(layers[1]) != 2 || len(layers[2]) != 1 {
		t.Fatalf("layer sizes = %v, want [1 2 1]", []int{len(layers[0]), len(layers[1]), len(layers[2])})
	}
}
