// Command regionbench drives put/get/scan/compact/split workloads against
// a single in-process region, the same load-generator shape the teacher's
// own brimstore-valuesstore/main.go uses against a ValuesStore: a fixed
// keyspace generated up front, a pool of goroutine clients each working a
// disjoint slice of it, and wall-clock-plus-throughput reporting around
// each phase.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brimdb/regiondb/internal/fsx"
	"github.com/brimdb/regiondb/internal/region"
	"github.com/brimdb/regiondb/internal/store"
	"github.com/brimdb/regiondb/internal/walog"
	"github.com/gholt/brimtext"
	flags "github.com/jessevdk/go-flags"
)

type optsStruct struct {
	Clients       int    `long:"clients" description:"The number of clients. Default: cores*cores"`
	Cores         int    `long:"cores" description:"The number of cores. Default: CPU core count"`
	ExtendedStats bool   `long:"extended-stats" description:"Extended statistics at exit."`
	Length        int    `short:"l" long:"length" description:"Length of values. Default: 100"`
	Number        int    `short:"n" long:"number" description:"Number of rows. Default: 10000"`
	Dir           string `long:"dir" description:"Directory to hold region data. Default: a temp dir"`
	Positional    struct {
		Tests []string `name:"tests" description:"write read scan compact split"`
	} `positional-args:"yes"`

	value []byte
	r     *region.Region
	st    runtime.MemStats
}

var opts optsStruct
var parser = flags.NewParser(&opts, flags.Default)

const family = "cf"
const column = family + ":v"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		args = append(args, "-h")
	}
	if _, err := parser.ParseArgs(args); err != nil {
		os.Exit(1)
	}
	for _, arg := range opts.Positional.Tests {
		switch arg {
		case "write", "read", "scan", "compact", "split":
		default:
			fmt.Fprintf(os.Stderr, "Unknown test named %#v.\n", arg)
			os.Exit(1)
		}
	}
	if opts.Cores > 0 {
		runtime.GOMAXPROCS(opts.Cores)
	} else if os.Getenv("GOMAXPROCS") == "" {
		runtime.GOMAXPROCS(runtime.NumCPU())
	}
	opts.Cores = runtime.GOMAXPROCS(0)
	if opts.Clients == 0 {
		opts.Clients = opts.Cores * opts.Cores
	}
	if opts.Length == 0 {
		opts.Length = 100
	}
	if opts.Number == 0 {
		opts.Number = 10000
	}
	opts.value = make([]byte, opts.Length)
	for i := range opts.value {
		opts.value[i] = byte('a' + i%26)
	}

	dir := opts.Dir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "regionbench")
		if err != nil {
			panic(err)
		}
		defer os.RemoveAll(dir)
	}

	fmt.Println(opts.Cores, "cores")
	fmt.Println(opts.Clients, "clients")
	fmt.Println(opts.Number, "rows")
	fmt.Println(opts.Length, "value length")
	memstat()

	fs := fsx.NewOSFilesystem()
	wal, err := walog.OpenFileWAL(filepath.Join(dir, "wal.log"))
	if err != nil {
		panic(err)
	}
	defer wal.Close()

	info := region.Info{Table: "bench", RegionID: 1}
	info.EncodedName = region.EncodeName(info.Table, info.StartKey, info.RegionID)

	begin := time.Now()
	r, err := region.Open(fs, dir, info, wal, region.Options{Families: map[string]store.Options{family: {}}})
	if err != nil {
		panic(err)
	}
	opts.r = r
	fmt.Println(time.Since(begin), "to open region")
	memstat()

	for _, arg := range opts.Positional.Tests {
		switch arg {
		case "write":
			write()
		case "read":
			read()
		case "scan":
			scanAll()
		case "compact":
			compact()
		case "split":
			split()
		}
		memstat()
	}

	if opts.r != nil {
		begin = time.Now()
		if _, err := opts.r.Close(false); err != nil {
			panic(err)
		}
		fmt.Println(time.Since(begin), "to close region")
		memstat()
	}
}

func rowFor(i int) []byte {
	return []byte(fmt.Sprintf("row-%012d", i))
}

func memstat() {
	runtime.ReadMemStats(&opts.st)
	fmt.Printf("%0.2fG total alloc\n\n", float64(opts.st.TotalAlloc)/1024/1024/1024)
}

func clientSlice(client int) (lo, hi int) {
	numberPer := opts.Number / opts.Clients
	lo = numberPer * client
	if client == opts.Clients-1 {
		hi = opts.Number
	} else {
		hi = numberPer * (client + 1)
	}
	return lo, hi
}

func write() {
	var failures uint64
	begin := time.Now()
	var wg sync.WaitGroup
	wg.Add(opts.Clients)
	for c := 0; c < opts.Clients; c++ {
		go func(client int) {
			defer wg.Done()
			lo, hi := clientSlice(client)
			for i := lo; i < hi; i++ {
				err := opts.r.BatchUpdate(rowFor(i), time.Now().UnixNano(), []region.Op{
					{Column: []byte(column), Value: opts.value, Kind: region.OpPut},
				})
				if err != nil {
					atomic.AddUint64(&failures, 1)
				}
			}
		}(c)
	}
	wg.Wait()
	dur := time.Since(begin)
	fmt.Printf("%s %.0f/s to write %d rows\n", dur, float64(opts.Number)/dur.Seconds(), opts.Number)
	if failures > 0 {
		fmt.Println(failures, "FAILURES!")
	}
}

func read() {
	var missing uint64
	var failures uint64
	begin := time.Now()
	var wg sync.WaitGroup
	wg.Add(opts.Clients)
	for c := 0; c < opts.Clients; c++ {
		go func(client int) {
			defer wg.Done()
			lo, hi := clientSlice(client)
			for i := lo; i < hi; i++ {
				vals, err := opts.r.Get(rowFor(i), []byte(column), time.Now().UnixNano(), 1)
				if err != nil {
					atomic.AddUint64(&failures, 1)
				} else if len(vals) == 0 {
					atomic.AddUint64(&missing, 1)
				}
			}
		}(c)
	}
	wg.Wait()
	dur := time.Since(begin)
	fmt.Printf("%s %.0f/s to read %d rows\n", dur, float64(opts.Number)/dur.Seconds(), opts.Number)
	if missing > 0 {
		fmt.Println(missing, "MISSING!")
	}
	if failures > 0 {
		fmt.Println(failures, "FAILURES!")
	}
}

func scanAll() {
	begin := time.Now()
	handle, err := opts.r.GetScanner(nil, nil, time.Now().UnixNano(), nil)
	if err != nil {
		panic(err)
	}
	defer handle.Close()
	var count int
	for {
		_, ok, err := handle.Next()
		if err != nil {
			panic(err)
		}
		if !ok {
			break
		}
		count++
	}
	dur := time.Since(begin)
	fmt.Printf("%s %.0f/s to scan %d rows\n", dur, float64(count)/dur.Seconds(), count)
}

func compact() {
	begin := time.Now()
	if err := opts.r.FlushCache(); err != nil {
		panic(err)
	}
	if err := opts.r.CompactStores(); err != nil {
		panic(err)
	}
	fmt.Println(time.Since(begin), "to flush and compact")
}

func split() {
	begin := time.Now()
	if _, ok := opts.r.NeedsSplit(0); !ok {
		fmt.Println("region does not need splitting")
		return
	}
	infoA, infoB, err := opts.r.SplitRegion(0, 2, 3)
	if err != nil {
		panic(err)
	}
	fmt.Println(time.Since(begin), "to split region into", infoA.EncodedName, "and", infoB.EncodedName)
	if opts.ExtendedStats {
		fmt.Println(brimtext.Align([][]string{
			{"child A start", string(infoA.StartKey)},
			{"child A end", string(infoA.EndKey)},
			{"child B start", string(infoB.StartKey)},
			{"child B end", string(infoB.EndKey)},
		}, nil))
	}
	opts.r = nil // SplitRegion already closed the parent
}
