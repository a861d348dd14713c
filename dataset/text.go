package dataset

import (
	"context"
	"math/rand"
	"path/filepath"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolou/config"
	"github.com/nvr-ai/go-yolou/images"
)

// Options configure a TextDataSet.
type Options struct {
	// ListPath is the list file. Relative image paths are resolved against
	// its directory.
	ListPath   string
	ImageSize  int
	BatchSize  int
	MaxObjects int
	// Threads is the number of decoding goroutines.
	Threads int
	// Flip mirrors each image horizontally with probability 0.5.
	Flip bool
	// Shuffle reorders the records at the start of every epoch.
	Shuffle bool
	// Seed makes shuffling and flipping reproducible.
	Seed int64
	// Prefetch is the number of batches assembled ahead of the solver.
	Prefetch int
}

// NewOptions reads TextDataSet options from the Common and DataSet sections.
func NewOptions(common, ds config.Section) (Options, error) {
	opts := Options{}
	var err error

	if opts.ListPath, err = ds.String("path"); err != nil {
		return opts, err
	}
	if opts.ImageSize, err = common.Int("image_size"); err != nil {
		return opts, err
	}
	if opts.BatchSize, err = common.Int("batch_size"); err != nil {
		return opts, err
	}
	if opts.MaxObjects, err = common.Int("max_objects_per_image"); err != nil {
		return opts, err
	}
	if opts.Threads, err = ds.IntOr("thread_num", 4); err != nil {
		return opts, err
	}
	if opts.Flip, err = ds.BoolOr("flip", false); err != nil {
		return opts, err
	}
	if opts.Shuffle, err = ds.BoolOr("shuffle", true); err != nil {
		return opts, err
	}
	seed, err := ds.IntOr("seed", 0)
	if err != nil {
		return opts, err
	}
	opts.Seed = int64(seed)
	if opts.Prefetch, err = ds.IntOr("prefetch", 4); err != nil {
		return opts, err
	}
	return opts, nil
}

type sample struct {
	image      []float32
	labels     []float32
	objectsNum int32
	err        error
}

type result struct {
	batch *Batch
	err   error
}

// TextDataSet reads images listed in a text file and assembles batches in
// background goroutines: one producer walks the records epoch after epoch,
// Threads workers decode and resize them, and one batcher groups samples.
type TextDataSet struct {
	opts    Options
	records []Record
	logger  golog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	batches chan result
	once    sync.Once
}

var _ Dataset = (*TextDataSet)(nil)

// NewTextDataSet reads the list file and starts the pipeline.
func NewTextDataSet(opts Options, logger golog.Logger) (*TextDataSet, error) {
	if opts.ImageSize <= 0 || opts.BatchSize <= 0 || opts.MaxObjects <= 0 {
		return nil, errors.New("image_size, batch_size and max_objects_per_image must be positive")
	}
	if opts.Threads <= 0 {
		opts.Threads = 1
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}

	records, err := ReadRecordsFile(opts.ListPath)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.Errorf("list file %q has no records", opts.ListPath)
	}
	base := filepath.Dir(opts.ListPath)
	for i := range records {
		if !filepath.IsAbs(records[i].Path) {
			records[i].Path = filepath.Join(base, records[i].Path)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &TextDataSet{
		opts:    opts,
		records: records,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		batches: make(chan result, opts.Prefetch),
	}
	d.start()

	logger.Infow("text dataset ready",
		"list", opts.ListPath,
		"records", len(records),
		"batch_size", opts.BatchSize,
		"threads", opts.Threads)
	return d, nil
}

// BatchSize returns the number of images per batch.
func (d *TextDataSet) BatchSize() int {
	return d.opts.BatchSize
}

// Batch returns the next assembled batch. A record that cannot be decoded
// fails the batch it belongs to.
func (d *TextDataSet) Batch(ctx context.Context) (*Batch, error) {
	if d.ctx.Err() != nil {
		return nil, errors.New("dataset is closed")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.ctx.Done():
		return nil, errors.New("dataset is closed")
	case r := <-d.batches:
		return r.batch, r.err
	}
}

// Close stops the pipeline and waits for its goroutines.
func (d *TextDataSet) Close() error {
	d.once.Do(func() {
		d.cancel()
		d.wg.Wait()
	})
	return nil
}

func (d *TextDataSet) start() {
	records := make(chan Record, d.opts.Threads*2)
	samples := make(chan sample, d.opts.BatchSize*2)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(records)
		d.produce(records)
	}()

	var workers sync.WaitGroup
	for i := 0; i < d.opts.Threads; i++ {
		workers.Add(1)
		d.wg.Add(1)
		rng := rand.New(rand.NewSource(d.opts.Seed + int64(i) + 1))
		go func() {
			defer d.wg.Done()
			defer workers.Done()
			for rec := range records {
				s := d.load(rec, rng)
				select {
				case samples <- s:
				case <-d.ctx.Done():
					return
				}
			}
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		workers.Wait()
		close(samples)
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.assemble(samples)
	}()
}

func (d *TextDataSet) produce(records chan<- Record) {
	rng := rand.New(rand.NewSource(d.opts.Seed))
	order := make([]int, len(d.records))
	for i := range order {
		order[i] = i
	}

	for epoch := 0; ; epoch++ {
		if d.opts.Shuffle {
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
		d.logger.Debugw("dataset epoch", "epoch", epoch)
		for _, i := range order {
			select {
			case records <- d.records[i]:
			case <-d.ctx.Done():
				return
			}
		}
	}
}

func (d *TextDataSet) assemble(samples <-chan sample) {
	size, batch, maxObjects := d.opts.ImageSize, d.opts.BatchSize, d.opts.MaxObjects
	imageLen := size * size * images.Channels
	labelLen := maxObjects * 5

	for {
		imgs := make([]float32, batch*imageLen)
		labels := make([]float32, batch*labelLen)
		objectsNum := make([]int32, batch)

		var err error
		for i := 0; i < batch; i++ {
			s, ok := <-samples
			if !ok {
				return
			}
			if s.err != nil && err == nil {
				err = s.err
			}
			if s.err != nil {
				continue
			}
			copy(imgs[i*imageLen:], s.image)
			copy(labels[i*labelLen:], s.labels)
			objectsNum[i] = s.objectsNum
		}

		r := result{err: err}
		if err == nil {
			r.batch = &Batch{
				Images:     tensor.New(tensor.WithShape(batch, size, size, images.Channels), tensor.WithBacking(imgs)),
				Labels:     tensor.New(tensor.WithShape(batch, maxObjects, 5), tensor.WithBacking(labels)),
				ObjectsNum: objectsNum,
			}
		}
		select {
		case d.batches <- r:
		case <-d.ctx.Done():
			return
		}
	}
}

// load decodes one record into a resized image and its rescaled labels.
func (d *TextDataSet) load(rec Record, rng *rand.Rand) sample {
	img, err := images.Load(rec.Path)
	if err != nil {
		return sample{err: err}
	}

	size := d.opts.ImageSize
	bounds := img.Bounds()
	w, h := float32(bounds.Dx()), float32(bounds.Dy())
	objects := rec.Objects
	if d.opts.Flip && rng.Float64() < 0.5 {
		img = images.FlipHorizontal(img)
		objects = mirror(objects, w)
	}

	s := sample{image: make([]float32, size*size*images.Channels)}
	if err := images.ToTensor(img, size, size, s.image); err != nil {
		return sample{err: errors.Wrapf(err, "record %q", rec.Path)}
	}
	s.labels, s.objectsNum = encodeObjects(objects, float32(size)/w, float32(size)/h, d.opts.MaxObjects)
	return s
}

func mirror(objects []Object, width float32) []Object {
	out := make([]Object, len(objects))
	for i, o := range objects {
		o.XMin, o.XMax = width-o.XMax, width-o.XMin
		out[i] = o
	}
	return out
}

// encodeObjects converts corner boxes into (xcenter, ycenter, w, h, class)
// rows scaled by (wr, hr), keeping at most maxObjects.
func encodeObjects(objects []Object, wr, hr float32, maxObjects int) ([]float32, int32) {
	labels := make([]float32, maxObjects*5)
	n := min(len(objects), maxObjects)
	for i := 0; i < n; i++ {
		o := objects[i]
		row := labels[i*5 : i*5+5]
		row[0] = (o.XMin + o.XMax) / 2 * wr
		row[1] = (o.YMin + o.YMax) / 2 * hr
		row[2] = (o.XMax - o.XMin) * wr
		row[3] = (o.YMax - o.YMin) * hr
		row[4] = float32(o.Class)
	}
	return labels, int32(n)
}
