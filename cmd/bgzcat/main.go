// bgzcat extracts virtual offset ranges from BGZF files.
package main

import (
	"bufio"
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/vertti/bgzchunk/internal/compress"
	"github.com/vertti/bgzchunk/internal/config"
	"github.com/vertti/bgzchunk/internal/device"
	"github.com/vertti/bgzchunk/internal/format"
	"github.com/vertti/bgzchunk/internal/parser"
	"github.com/vertti/bgzchunk/internal/source"
)

var version = "dev"

const (
	exitSuccess = 0
	exitError   = 1
)

type options struct {
	compress   bool
	list       bool
	count      bool
	sum        bool
	verbose    bool
	inputFile  string
	outputFile string
	begin      string
	end        string
	chunkSize  int
	blockSize  int
	level      int
	workers    int
	backend    string
	codec      string
	delim      string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts, done := parseFlags()
	if done {
		return exitSuccess
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}
	if opts.verbose {
		cfg.LogConfig.LogLevel = logrus.DebugLevel.String()
	}
	log := cfg.NewLogger(os.Stderr)

	input, cleanup, err := openInput(opts.inputFile, !opts.compress && !opts.list)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}
	defer cleanup()

	output, cleanup, err := openOutput(opts.outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}
	defer cleanup()

	if err := execute(opts, cfg, log, input, output, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}

	return exitSuccess
}

func parseFlags() (options, bool) {
	var opts options
	var showVersion, showHelp bool

	flag.BoolVar(&opts.compress, "c", false, "compress input to BGZF")
	flag.BoolVar(&opts.list, "l", false, "list the block index")
	flag.BoolVar(&opts.count, "n", false, "count records in the range instead of printing them")
	flag.BoolVar(&opts.sum, "sum", false, "print an xxhash64 digest of the extracted bytes to stderr")
	flag.BoolVar(&opts.verbose, "v", false, "debug logging")
	flag.StringVar(&opts.inputFile, "i", "", "input file (default: stdin)")
	flag.StringVar(&opts.outputFile, "o", "", "output file (default: stdout)")
	flag.StringVar(&opts.begin, "b", "0", "begin virtual offset (decimal, 0x hex or compressed:local)")
	flag.StringVar(&opts.end, "e", "", "end virtual offset (default: end of file)")
	flag.IntVar(&opts.chunkSize, "s", source.DefaultChunkSize, "bytes requested per chunk")
	flag.IntVar(&opts.blockSize, "block", compress.DefaultBlockSize, "input bytes per block (compress mode)")
	flag.IntVar(&opts.level, "level", 0, "deflate level (compress mode, default: 6)")
	flag.IntVar(&opts.workers, "w", 0, "workers (default: BGZCHUNK_INFLATE_WORKERS or NumCPU)")
	flag.StringVar(&opts.backend, "backend", "", "inflate backend: batched or inflate (default: BGZCHUNK_INFLATE_BACKEND)")
	flag.StringVar(&opts.codec, "codec", string(compress.CodecNone), "output codec: none, zstd, s2 or lz4")
	flag.StringVar(&opts.delim, "delim", `\n`, "record delimiter for -n (escapes allowed)")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.BoolVar(&showHelp, "h", false, "show help")

	flag.Usage = usage
	flag.Parse()

	if showHelp {
		flag.Usage()
		return opts, true
	}

	if showVersion {
		fmt.Printf("bgzcat version %s\n", version)
		return opts, true
	}

	// Handle positional arguments
	args := flag.Args()
	if len(args) > 0 && opts.inputFile == "" {
		opts.inputFile = args[0]
	}
	if len(args) > 1 && opts.outputFile == "" {
		opts.outputFile = args[1]
	}

	return opts, false
}

func usage() {
	fmt.Fprintf(os.Stderr, `bgzcat - BGZF range extraction tool

Usage:
  bgzcat [options] [-i input.gz] [-o output]   Extract a virtual offset range
  bgzcat -c [-i input] [-o output.gz]          Compress to BGZF
  bgzcat -l [-i input.gz]                      List blocks

Options:
`)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  BGZCHUNK_INFLATE_BACKEND, BGZCHUNK_INFLATE_WORKERS, BGZCHUNK_INITIAL_READ_SIZE,
  BGZCHUNK_LOG_LEVEL, BGZCHUNK_LOG_FORMAT

Examples:
  bgzcat -c reads.txt reads.txt.gz                 Compress file
  bgzcat -l reads.txt.gz                           Show block offsets
  bgzcat -b 0x1a2b0000 -e 0x3c4d0100 reads.txt.gz  Extract a range
  bgzcat -n reads.txt.gz                           Count lines
  bgzcat -codec zstd -sum reads.txt.gz > out.zst   Recompress with digest
`)
}

// openInput opens path for reading. Range extraction needs a seekable
// input; a non-seekable stdin is buffered in memory.
func openInput(path string, seekable bool) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		if !seekable {
			return bufio.NewReaderSize(os.Stdin, 1<<20), func() {}, nil
		}
		if _, err := os.Stdin.Seek(0, io.SeekCurrent); err == nil {
			return os.Stdin, func() {}, nil
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot read stdin: %w", err)
		}
		return bytes.NewReader(data), func() {}, nil
	}

	f, err := os.Open(path) //nolint:gosec // CLI tool needs to open user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open input: %w", err)
	}
	cleanup := func() { _ = f.Close() }
	if seekable {
		return f, cleanup, nil
	}
	return bufio.NewReaderSize(f, 1<<20), cleanup, nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		bw := bufio.NewWriterSize(os.Stdout, 1<<20)
		return bw, func() { _ = bw.Flush() }, nil
	}

	f, err := os.Create(path) //nolint:gosec // CLI tool needs to create user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create output: %w", err)
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	return bw, func() { _ = bw.Flush(); _ = f.Close() }, nil
}

func execute(opts options, cfg config.Config, log logrus.FieldLogger, input io.Reader, output, diag io.Writer) error {
	if opts.backend != "" {
		cfg.InflateBackend = opts.backend
	}
	if opts.workers != 0 {
		cfg.InflateWorkers = opts.workers
	}

	switch {
	case opts.compress:
		return compress.Compress(input, output, &compress.Options{
			BlockSize: opts.blockSize,
			Level:     opts.level,
			Workers:   opts.workers,
		})
	case opts.list:
		return listBlocks(input, output)
	}

	rs, ok := input.(io.ReadSeeker)
	if !ok {
		return errors.New("range extraction needs a seekable input")
	}
	begin, end, err := parseRange(opts.begin, opts.end)
	if err != nil {
		return err
	}

	if opts.count {
		n, err := countRecords(rs, begin, end, opts, cfg, log)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(output, n)
		return err
	}

	return extract(rs, begin, end, opts, cfg, log, output, diag)
}

func parseRange(beginArg, endArg string) (format.VirtualOffset, format.VirtualOffset, error) {
	begin, err := format.ParseVirtualOffset(beginArg)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid begin offset: %w", err)
	}
	end := format.MaxVirtualOffset
	if endArg != "" {
		if end, err = format.ParseVirtualOffset(endArg); err != nil {
			return 0, 0, fmt.Errorf("invalid end offset: %w", err)
		}
	}
	return begin, end, nil
}

func extract(rs io.ReadSeeker, begin, end format.VirtualOffset, opts options, cfg config.Config,
	log logrus.FieldLogger, output, diag io.Writer,
) error {
	w, err := compress.NewCodecWriter(output, compress.Codec(opts.codec))
	if err != nil {
		return err
	}

	digest := xxhash.New()
	var dst io.Writer = w
	if opts.sum {
		dst = io.MultiWriter(w, digest)
	}

	err = compress.Decompress(rs, dst, &compress.DecompressOptions{
		Begin:           begin,
		End:             end,
		ChunkSize:       opts.chunkSize,
		InitialReadSize: cfg.InitialReadSize,
		Workers:         cfg.InflateWorkers,
		Backend:         cfg.InflateBackend,
		Logger:          log,
	})
	if err != nil {
		return errors.Join(err, w.Close())
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("flushing %s output: %w", opts.codec, err)
	}

	if opts.sum {
		fmt.Fprintf(diag, "xxh64 %016x\n", digest.Sum64())
	}
	return nil
}

func countRecords(rs io.ReadSeeker, begin, end format.VirtualOffset, opts options, cfg config.Config,
	log logrus.FieldLogger,
) (n int, err error) {
	delim, err := unescapeDelimiter(opts.delim)
	if err != nil {
		return 0, err
	}
	sourceOpts, err := cfg.SourceOptions(log)
	if err != nil {
		return 0, err
	}

	reader, err := source.NewReader(rs, begin, end, sourceOpts)
	if err != nil {
		return 0, fmt.Errorf("opening reader: %w", err)
	}
	defer func() { err = errors.Join(err, reader.Close()) }()

	stream := device.NewStream()
	defer func() { err = errors.Join(err, stream.Close()) }()

	return parser.New(source.NewStreamReader(reader, stream, opts.chunkSize), delim).Count()
}

func unescapeDelimiter(s string) ([]byte, error) {
	var out []byte
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			out = append(out, s[i])
			continue
		}
		i++
		if i == len(s) {
			return nil, fmt.Errorf("invalid delimiter %q: trailing backslash", s)
		}
		switch s[i] {
		case 'n':
			out = append(out, '\n')
		case 't':
			out = append(out, '\t')
		case 'r':
			out = append(out, '\r')
		case '0':
			out = append(out, 0)
		case '\\':
			out = append(out, '\\')
		default:
			return nil, fmt.Errorf("invalid delimiter %q: unknown escape \\%c", s, s[i])
		}
	}
	if len(out) == 0 {
		return nil, errors.New("empty delimiter")
	}
	return out, nil
}

func listBlocks(input io.Reader, output io.Writer) error {
	blocks, err := compress.Index(input)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(output, 0, 8, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "block\tvirtual offset\tcompressed\tdecompressed offset\tdecompressed\t")
	var compressedTotal, decompressedTotal uint64
	for i, b := range blocks {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t\n",
			i, b.VirtualOffset(), b.CompressedSize, b.DecompressedOffset, b.DecompressedSize)
		compressedTotal += uint64(b.CompressedSize)     //nolint:gosec // block sizes are positive
		decompressedTotal += uint64(b.DecompressedSize) //nolint:gosec // block sizes are positive
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	ratio := 0.0
	if compressedTotal > 0 {
		ratio = float64(decompressedTotal) / float64(compressedTotal)
	}
	_, err = fmt.Fprintf(output, "%s blocks, %s compressed, %s decompressed, ratio %.2f\n",
		humanize.Comma(int64(len(blocks))), humanize.Bytes(compressedTotal), humanize.Bytes(decompressedTotal), ratio)
	return err
}
