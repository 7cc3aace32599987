package treesync

import (
	"context"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/cache"
	"github.com/kysee/zkpool/zk-pool/events"
	"github.com/kysee/zkpool/zk-pool/merkle"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testLevels = 10

type knownRoots map[fr.Element]bool

func (k knownRoots) IsKnownRoot(_ context.Context, root fr.Element) (bool, error) {
	return k[root], nil
}

func randomLeaves(n int) []fr.Element {
	leaves := make([]fr.Element, n)
	for i := range leaves {
		leaves[i] = utils.RandomElement(31)
	}
	return leaves
}

func verifiedLog(t *testing.T, leaves []fr.Element) *events.VerifiedLog {
	evs := make([]events.CommitmentEvent, len(leaves))
	for i := range leaves {
		evs[i] = events.CommitmentEvent{
			LeafIndex:   uint64(i),
			Commitment:  common.Hash(leaves[i].Bytes()),
			BlockNumber: uint64(i),
		}
	}
	log, err := events.VerifyCommitments(evs)
	require.NoError(t, err)
	return log
}

func fullRoot(t *testing.T, leaves []fr.Element) fr.Element {
	tree, err := merkle.New(testLevels, leaves, merkle.DefaultZero)
	require.NoError(t, err)
	return tree.Root()
}

func testConfig() Config {
	return Config{ChainID: 100, Token: "xdai", Levels: testLevels, Zero: merkle.DefaultZero, Parts: 4}
}

// publish writes the cache for leaves and returns a service reading it.
func publish(t *testing.T, leaves []fr.Element, roots RootChecker) *Service {
	dir := t.TempDir()
	cfg := testConfig()
	writer := cache.NewWriter(dir, zerolog.Nop())
	_, err := NewService(cfg, nil, roots, zerolog.Nop()).Publish(writer, verifiedLog(t, leaves))
	require.NoError(t, err)
	return NewService(cfg, cache.NewReader(cache.DirSource{Root: dir}), roots, zerolog.Nop())
}

func TestGetTreeLastSlice(t *testing.T) {
	leaves := randomLeaves(64)
	svc := publish(t, leaves, knownRoots{})

	pt, err := svc.GetTree(context.Background(), &leaves[60])
	require.NoError(t, err)
	require.Equal(t, 48, pt.EdgeIndex())
	require.Equal(t, 60, pt.IndexOf(leaves[60]))
	require.Equal(t, fullRoot(t, leaves), pt.Root())

	pt, err = svc.GetTree(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 48, pt.EdgeIndex())
}

func TestGetTreeShiftsEdge(t *testing.T) {
	leaves := randomLeaves(64)
	svc := publish(t, leaves, knownRoots{})
	full, err := merkle.New(testLevels, leaves, merkle.DefaultZero)
	require.NoError(t, err)

	for _, tc := range []struct {
		target int
		edge   int
	}{
		{target: 40, edge: 32},
		{target: 20, edge: 16},
		{target: 3, edge: 0},
	} {
		pt, err := svc.GetTree(context.Background(), &leaves[tc.target])
		require.NoError(t, err)
		require.Equal(t, tc.edge, pt.EdgeIndex())
		require.Equal(t, full.Root(), pt.Root())

		path, err := pt.Path(tc.target)
		require.NoError(t, err)
		want, err := full.Path(tc.target)
		require.NoError(t, err)
		require.Equal(t, want.Elements, path.Elements)
		require.Equal(t, want.Indices, path.Indices)
	}
}

func TestGetTreeAbsentTarget(t *testing.T) {
	leaves := randomLeaves(64)
	svc := publish(t, leaves, knownRoots{})

	absent := utils.RandomElement(31)
	pt, err := svc.GetTree(context.Background(), &absent)
	require.NoError(t, err)
	require.Equal(t, -1, pt.IndexOf(absent))
	require.Equal(t, fullRoot(t, leaves), pt.Root())
}

func TestGetTreeCacheUnavailable(t *testing.T) {
	svc := NewService(testConfig(), cache.NewReader(cache.DirSource{Root: t.TempDir()}), knownRoots{}, zerolog.Nop())
	_, err := svc.GetTree(context.Background(), nil)
	require.ErrorIs(t, err, types.ErrCacheUnavailable)

	svc = NewService(testConfig(), nil, knownRoots{}, zerolog.Nop())
	_, err = svc.GetTree(context.Background(), nil)
	require.ErrorIs(t, err, types.ErrCacheUnavailable)
}

func TestBuildAppendsNewLeaves(t *testing.T) {
	leaves := randomLeaves(64)
	roots := knownRoots{}
	svc := publish(t, leaves, roots)

	all := append(leaves, randomLeaves(7)...)
	roots[fullRoot(t, all)] = true

	snap, err := svc.Build(context.Background(), verifiedLog(t, all), all[66], all[50])
	require.NoError(t, err)
	require.IsType(t, &merkle.PartialTree{}, snap)
	require.Equal(t, fullRoot(t, all), snap.Root())
	require.Equal(t, 66, snap.IndexOf(all[66]))
	require.Equal(t, 50, snap.IndexOf(all[50]))

	// an old target moves the edge left
	snap, err = svc.Build(context.Background(), verifiedLog(t, all), all[5])
	require.NoError(t, err)
	require.Equal(t, 5, snap.IndexOf(all[5]))
}

func TestBuildFallsBackToFullTree(t *testing.T) {
	leaves := randomLeaves(30)
	roots := knownRoots{fullRoot(t, leaves): true}

	svc := NewService(testConfig(), cache.NewReader(cache.DirSource{Root: t.TempDir()}), roots, zerolog.Nop())
	snap, err := svc.Build(context.Background(), verifiedLog(t, leaves), leaves[3])
	require.NoError(t, err)
	require.IsType(t, &merkle.Tree{}, snap)
	require.Equal(t, 3, snap.IndexOf(leaves[3]))
}

func TestBuildRebuildsOnUnknownRoot(t *testing.T) {
	leaves := randomLeaves(64)

	// the cache agrees with the log from the last edge on, but its edge
	// proof was computed over a different first leaf
	stale := append([]fr.Element(nil), leaves...)
	stale[0] = utils.RandomElement(31)
	roots := knownRoots{fullRoot(t, leaves): true}
	svc := publish(t, stale, roots)

	snap, err := svc.Build(context.Background(), verifiedLog(t, leaves), leaves[60])
	require.NoError(t, err)
	require.IsType(t, &merkle.Tree{}, snap)
	require.Equal(t, fullRoot(t, leaves), snap.Root())
}

func TestBuildUnknownRoot(t *testing.T) {
	leaves := randomLeaves(20)
	svc := publish(t, leaves, knownRoots{})

	_, err := svc.Build(context.Background(), verifiedLog(t, leaves))
	require.ErrorIs(t, err, types.ErrUnknownRoot)
	require.ErrorIs(t, err, types.ErrState)
}

func TestBuildRejectsDivergentCache(t *testing.T) {
	leaves := randomLeaves(64)
	svc := publish(t, randomLeaves(64), knownRoots{fullRoot(t, leaves): true})

	snap, err := svc.Build(context.Background(), verifiedLog(t, leaves))
	require.NoError(t, err)
	require.IsType(t, &merkle.Tree{}, snap)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Service("xdai")
	require.Error(t, err)

	svc := NewService(testConfig(), nil, knownRoots{}, zerolog.Nop())
	reg.Register(svc)
	got, err := reg.Service("xdai")
	require.NoError(t, err)
	require.Same(t, svc, got)
}
