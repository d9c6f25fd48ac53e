package organ

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rings/internal/audio"
	"rings/internal/cell"
	"rings/internal/heredity"
)

const testRate = 1000

type rig struct {
	organ  *Organ
	store  *heredity.Store
	output *audio.WaveOutput
	meters []*audio.Meter
}

func newRig(t *testing.T, opts Options, g heredity.Genome) *rig {
	t.Helper()
	store := heredity.NewStore()
	require.NoError(t, store.Assign(g))

	f, err := NewFactory(opts)
	require.NoError(t, err)
	r := &rig{
		store:  store,
		output: audio.NewWaveOutput(opts.SampleRate, 10*opts.SampleRate),
		meters: []*audio.Meter{audio.NewMeter(audio.DefaultMeterConfig()), audio.NewMeter(audio.DefaultMeterConfig())},
	}
	r.organ, err = f.Build(Live(store, opts.SampleRate), []cell.Receptor{r.meters[0], r.meters[1]}, r.output)
	require.NoError(t, err)
	return r
}

func (r *rig) render(t *testing.T, frames int) []float64 {
	t.Helper()
	require.NoError(t, r.organ.Setup().Run())
	tick := r.organ.Tick()
	for i := 0; i < frames; i++ {
		require.NoError(t, tick.Run())
	}
	return r.output.Samples()
}

func (r *rig) reset() {
	r.organ.Reset()
	r.output.Reset()
	for _, m := range r.meters {
		m.Reset()
	}
}

func generate(t *testing.T, opts Options, seed int64) heredity.Genome {
	t.Helper()
	gen, err := heredity.NewGenerator(Template(opts), seed)
	require.NoError(t, err)
	return gen.Next()
}

func zeroed(g heredity.Genome) heredity.Genome {
	out := g.Clone()
	for _, c := range out.Chromosomes {
		for _, gene := range c {
			clear(gene)
		}
	}
	return out
}

func TestTemplateShape(t *testing.T) {
	opts := DefaultOptions(testRate)
	opts.Sources, opts.DelayLayers = 3, 5
	tmpl := Template(opts)
	require.NoError(t, tmpl.Validate())

	shape := tmpl.Shape()
	require.Len(t, shape, ChromosomeCount)
	assert.Len(t, shape[Generators], 3)
	assert.Len(t, shape[Volume], 3)
	assert.Len(t, shape[Filters], 3)
	assert.Len(t, shape[Processors], 5)
	assert.Equal(t, []int{5, 5, 5, 5, 5}, shape[Transmission])
	assert.Equal(t, []int{5}, shape[Wet])

	g := generate(t, opts, 1)
	require.NoError(t, tmpl.Conforms(g))
	for _, gene := range g.Chromosomes[Processors] {
		seconds := DelaySeconds(gene[0])
		assert.GreaterOrEqual(t, seconds, opts.DelayRange.Min-1e-9)
		assert.LessOrEqual(t, seconds, opts.DelayRange.Max+1e-9)
	}
}

func TestFactorConversions(t *testing.T) {
	assert.InDelta(t, 2.5, DelaySeconds(FactorForDelay(2.5)), 1e-9)
	assert.InDelta(t, 2.0, Repeat(FactorForRepeat(2)), 1e-9)
	assert.Equal(t, 1.0, Repeat(0.5))
	assert.InDelta(t, 0.025, FactorForFrequency(500), 1e-12)
	assert.Equal(t, "transmission", ChromosomeName(Transmission))
}

func TestBuildRendersSignal(t *testing.T) {
	opts := DefaultOptions(testRate)
	r := newRig(t, opts, generate(t, opts, 7))

	samples := r.render(t, 500)
	require.Len(t, samples, 500)
	peak := 0.0
	for _, v := range samples {
		peak = math.Max(peak, math.Abs(v))
	}
	assert.Greater(t, peak, 0.01)
	assert.Equal(t, 500, r.meters[MainMeasure].Samples())
	assert.Equal(t, 500, r.meters[EffectsMeasure].Samples())
	assert.Len(t, r.organ.Delays(), opts.DelayLayers)
	assert.Len(t, r.organ.Sources(), opts.Sources)
}

func TestRenderIsDeterministic(t *testing.T) {
	opts := DefaultOptions(testRate)
	g := generate(t, opts, 11)
	a := newRig(t, opts, g).render(t, 2000)
	b := newRig(t, opts, g).render(t, 2000)
	assert.Equal(t, a, b)
}

func TestResetRestoresInitialState(t *testing.T) {
	opts := DefaultOptions(testRate)
	r := newRig(t, opts, generate(t, opts, 3))

	first := append([]float64(nil), r.render(t, 1500)...)
	r.reset()
	r.reset()
	second := r.render(t, 1500)
	assert.Equal(t, first, second)
}

func TestGraphFollowsStoreAssignment(t *testing.T) {
	opts := DefaultOptions(testRate)
	g := generate(t, opts, 5)
	r := newRig(t, opts, g)
	require.NotZero(t, peakOf(r.render(t, 200)))

	r.reset()
	require.NoError(t, r.store.Assign(zeroed(g)))
	assert.Zero(t, peakOf(r.render(t, 200)))
}

func peakOf(samples []float64) float64 {
	peak := 0.0
	for _, v := range samples {
		peak = math.Max(peak, math.Abs(v))
	}
	return peak
}

func TestSampleGeneratorsFollowChoice(t *testing.T) {
	opts := DefaultOptions(testRate)
	opts.Sources = 1
	opts.Samples = []audio.Sample{
		{Path: "a.wav", Data: []float64{0.5, -0.5, 0.25}},
		{Path: "b.wav", Data: []float64{0.1}},
	}
	g := generate(t, opts, 9)
	g.Chromosomes[Generators][0][GeneratorChoice] = 0.9
	r := newRig(t, opts, g)

	require.NoError(t, r.organ.Setup().Run())
	wave, ok := r.organ.Sources()[0].(*cell.WaveCell)
	require.True(t, ok)
	assert.Equal(t, []float64{0.1}, wave.Data())

	g.Chromosomes[Generators][0][GeneratorChoice] = 0.1
	require.NoError(t, r.store.Assign(g))
	require.NoError(t, r.organ.Setup().Run())
	assert.Equal(t, []float64{0.5, -0.5, 0.25}, wave.Data())
}

func TestDelayLayersTrackProcessors(t *testing.T) {
	opts := DefaultOptions(testRate)
	g := generate(t, opts, 13)
	g.Chromosomes[Processors][1][0] = FactorForDelay(1.25)
	r := newRig(t, opts, g)
	assert.Equal(t, 1250, r.organ.Delays()[1].DelayFrames())
}

func TestBuildRejectsForeignShape(t *testing.T) {
	opts := DefaultOptions(testRate)
	other := opts
	other.Sources = 2

	store := heredity.NewStore()
	require.NoError(t, store.Assign(generate(t, other, 1)))
	f, err := NewFactory(opts)
	require.NoError(t, err)
	m := audio.NewMeter(audio.DefaultMeterConfig())
	_, err = f.Build(Live(store, testRate), []cell.Receptor{m, m}, m)
	require.ErrorIs(t, err, heredity.ErrShapeMismatch)
}

func TestDefaultBreederPreservesShape(t *testing.T) {
	opts := DefaultOptions(testRate)
	x, y := generate(t, opts, 1), generate(t, opts, 2)
	child, err := DefaultBreeder().Breed(x, y, rand.New(rand.NewSource(4)))
	require.NoError(t, err)
	assert.True(t, heredity.SameShape(x, child))

	for i, gene := range child.Chromosomes[Generators] {
		assert.Contains(t, []float64{x.Chromosomes[Generators][i][GeneratorRepeat], y.Chromosomes[Generators][i][GeneratorRepeat]}, gene[GeneratorRepeat])
	}
}

func TestOptionsValidate(t *testing.T) {
	opts := DefaultOptions(testRate)
	require.NoError(t, opts.Validate())

	bad := opts
	bad.DelayRange.Max = opts.MaxDelay + 1
	assert.Error(t, bad.Validate())

	bad = opts
	bad.Samples = []audio.Sample{{Path: "empty.wav"}}
	assert.Error(t, bad.Validate())
}
