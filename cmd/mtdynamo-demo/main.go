// mtdynamo-demo is a unified CLI that exercises the sharedtable and
// tablepertenant façades against an in-process fake store, so both
// multi-tenancy strategies can be poked at without a real DynamoDB account.
//
// # Commands
//
//	mtdynamo-demo create-table -tenant t1 -table Users -hash id
//	mtdynamo-demo put          -tenant t1 -table Users -item id=alice -item name=Alice
//	mtdynamo-demo get          -tenant t1 -table Users -key id=alice
//	mtdynamo-demo delete       -tenant t1 -table Users -key id=alice
//	mtdynamo-demo query        -tenant t1 -table Users -key id=alice
//	mtdynamo-demo scan         -tenant t1 -table Users
//	mtdynamo-demo stream       -tenant t1 -table Users
//
// Configuration (optional): create mtdynamo-demo.yaml in the working
// directory (or in any parent of it):
//
//	mode: sharedtable       # or tablepertenant
//	tablePrefix: ""
//	delimiter: "."
//	metadataPath: ""        # empty means in-memory metadata
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/acksell/mtdynamo"
	"github.com/acksell/mtdynamo/mtcontext"
	"github.com/acksell/mtdynamo/sharedtable"
	"github.com/acksell/mtdynamo/tablepertenant"
	"github.com/acksell/mtdynamo/tablerepo"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	os.Args = append([]string{os.Args[0]}, os.Args[2:]...)

	var err error
	switch cmd {
	case "create-table":
		err = runCreateTable()
	case "describe-table":
		err = runDescribeTable()
	case "delete-table":
		err = runDeleteTable()
	case "put":
		err = runPut()
	case "get":
		err = runGet()
	case "delete":
		err = runDelete()
	case "query":
		err = runQuery()
	case "scan":
		err = runScan()
	case "stream":
		err = runStream()
	case "help", "-h", "--help":
		printUsage()
		return
	case "version", "-v", "--version":
		fmt.Printf("mtdynamo-demo version %s\n", version)
		return
	default:
		fmt.Fprintf(os.Stderr, "mtdynamo-demo: unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "mtdynamo-demo %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`mtdynamo-demo - exercise the mtdynamo façades without a real AWS account

Usage:
  mtdynamo-demo <command> [flags]

Commands:
  create-table    Create a virtual table
  describe-table  Print a virtual table's description
  delete-table    Delete a virtual table
  put             Put an item
  get             Get an item by key
  delete          Delete an item by key
  query           Query items by hash key
  scan            Scan every item in a table
  stream          Read the change feed for a table through the cache

Flags (per command, see -h):
  -tenant   tenant id (required)
  -table    virtual table name (required)
  -hash     hash key attribute name (create-table only)
  -range    range key attribute name (create-table only, optional)
  -item     name=value, repeatable (put)
  -key      name=value, repeatable (get/delete/query)
  -limit    max items/records to return (query/scan/stream)

Configuration (optional):
  Create mtdynamo-demo.yaml for shared defaults:

    mode: sharedtable   # or tablepertenant
    tablePrefix: ""
    delimiter: "."
    metadataPath: ""    # empty means in-memory metadata

Run 'mtdynamo-demo <command> -h' for command-specific flags.`)
}

// demoState wires together everything the process needs for one invocation:
// config, physical store, table-metadata repository and the backend the
// configured mode selects. Built fresh per-run since the demo is not a
// long-lived server.
type demoState struct {
	cfg     Config
	store   *localStore
	repo    tablerepo.Repository
	backend backend
	logger  *zap.Logger
}

func newDemoState() (*demoState, func(), error) {
	cfg := LoadConfig()
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, func() {}, fmt.Errorf("build logger: %w", err)
	}

	store := newLocalStore()

	var repo tablerepo.Repository
	cleanup := func() {}
	if cfg.MetadataPath != "" {
		badgerRepo, err := tablerepo.NewBadgerRepository(tablerepo.BadgerOptions{Path: cfg.MetadataPath})
		if err != nil {
			return nil, func() {}, fmt.Errorf("open metadata repository: %w", err)
		}
		repo = badgerRepo
		cleanup = func() { badgerRepo.Close() }
	} else {
		repo = tablerepo.NewInMemory()
	}

	mtCfg := mtdynamo.NewConfig(
		mtdynamo.WithTablePrefix(cfg.TablePrefix),
		mtdynamo.WithDelimiter(cfg.Delimiter),
	)

	var b backend
	switch cfg.Mode {
	case "", "sharedtable":
		b = sharedTableBackend{f: sharedtable.New(mtCfg, store, repo, sharedtable.WithLogger(logger))}
	case "tablepertenant":
		b = tablePerTenantBackend{f: tablepertenant.New(mtCfg, store, repo, tablepertenant.WithLogger(logger))}
	default:
		return nil, cleanup, fmt.Errorf("unknown mode %q in config (want sharedtable or tablepertenant)", cfg.Mode)
	}

	return &demoState{cfg: cfg, store: store, repo: repo, backend: b, logger: logger}, cleanup, nil
}

// commonFlags is shared by every subcommand: which tenant is acting and
// which virtual table it's acting against.
type commonFlags struct {
	tenant string
	table  string
}

func bindCommonFlags(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.tenant, "tenant", "", "tenant id (required)")
	fs.StringVar(&c.table, "table", "", "virtual table name (required)")
	return c
}

func (c *commonFlags) validate() error {
	if c.tenant == "" {
		return fmt.Errorf("-tenant is required")
	}
	if c.table == "" {
		return fmt.Errorf("-table is required")
	}
	return nil
}

// pairFlags accumulates repeated -item/-key name=value flags into an
// mtdynamo.Item, treating every value as a plain string attribute (the
// demo's documented simplification: no numeric/binary/set attribute
// support on the command line).
type pairFlags struct {
	item mtdynamo.Item
}

func (p *pairFlags) String() string { return "" }

func (p *pairFlags) Set(value string) error {
	name, val, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("expected name=value, got %q", value)
	}
	if p.item == nil {
		p.item = mtdynamo.Item{}
	}
	p.item[name] = &types.AttributeValueMemberS{Value: val}
	return nil
}

func runCreateTable() error {
	fs := flag.NewFlagSet("create-table", flag.ExitOnError)
	c := bindCommonFlags(fs)
	hash := fs.String("hash", "", "hash key attribute name (required)")
	rangeKey := fs.String("range", "", "range key attribute name (optional)")
	fs.Parse(os.Args[1:])
	if err := c.validate(); err != nil {
		return err
	}
	if *hash == "" {
		return fmt.Errorf("-hash is required")
	}

	state, cleanup, err := newDemoState()
	if err != nil {
		return err
	}
	defer cleanup()

	keys := mtdynamo.KeySchema{Hash: mtdynamo.KeyDef{Name: *hash, Kind: mtdynamo.KeyKindS}}
	if *rangeKey != "" {
		keys.Range = mtdynamo.KeyDef{Name: *rangeKey, Kind: mtdynamo.KeyKindS}
	}

	ctx := mtcontext.WithTenant(context.Background(), c.tenant)
	err = state.backend.CreateTable(ctx, mtdynamo.VirtualTableDescription{
		TableName: c.table,
		Keys:      keys,
	})
	if err != nil {
		return err
	}
	fmt.Printf("created table %q for tenant %q\n", c.table, c.tenant)
	return nil
}

func runDescribeTable() error {
	fs := flag.NewFlagSet("describe-table", flag.ExitOnError)
	c := bindCommonFlags(fs)
	fs.Parse(os.Args[1:])
	if err := c.validate(); err != nil {
		return err
	}

	state, cleanup, err := newDemoState()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := mtcontext.WithTenant(context.Background(), c.tenant)
	desc, err := state.backend.DescribeTable(ctx, c.table)
	if err != nil {
		return err
	}
	fmt.Printf("%+v\n", desc)
	return nil
}

func runDeleteTable() error {
	fs := flag.NewFlagSet("delete-table", flag.ExitOnError)
	c := bindCommonFlags(fs)
	fs.Parse(os.Args[1:])
	if err := c.validate(); err != nil {
		return err
	}

	state, cleanup, err := newDemoState()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := mtcontext.WithTenant(context.Background(), c.tenant)
	if err := state.backend.DeleteTable(ctx, c.table); err != nil {
		return err
	}
	fmt.Printf("deleted table %q for tenant %q\n", c.table, c.tenant)
	return nil
}

func runPut() error {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	c := bindCommonFlags(fs)
	var pairs pairFlags
	fs.Var(&pairs, "item", "name=value, repeatable")
	fs.Parse(os.Args[1:])
	if err := c.validate(); err != nil {
		return err
	}
	if len(pairs.item) == 0 {
		return fmt.Errorf("at least one -item is required")
	}

	state, cleanup, err := newDemoState()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := mtcontext.WithTenant(context.Background(), c.tenant)
	if err := state.backend.PutItem(ctx, c.table, pairs.item); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func runGet() error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	c := bindCommonFlags(fs)
	var pairs pairFlags
	fs.Var(&pairs, "key", "name=value, repeatable")
	fs.Parse(os.Args[1:])
	if err := c.validate(); err != nil {
		return err
	}
	if len(pairs.item) == 0 {
		return fmt.Errorf("at least one -key is required")
	}

	state, cleanup, err := newDemoState()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := mtcontext.WithTenant(context.Background(), c.tenant)
	item, err := state.backend.GetItem(ctx, c.table, pairs.item)
	if err != nil {
		return err
	}
	printItems([]mtdynamo.Item{item})
	return nil
}

func runDelete() error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	c := bindCommonFlags(fs)
	var pairs pairFlags
	fs.Var(&pairs, "key", "name=value, repeatable")
	fs.Parse(os.Args[1:])
	if err := c.validate(); err != nil {
		return err
	}
	if len(pairs.item) == 0 {
		return fmt.Errorf("at least one -key is required")
	}

	state, cleanup, err := newDemoState()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := mtcontext.WithTenant(context.Background(), c.tenant)
	if err := state.backend.DeleteItem(ctx, c.table, pairs.item); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func runQuery() error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	c := bindCommonFlags(fs)
	var pairs pairFlags
	fs.Var(&pairs, "key", "hash key name=value, repeatable")
	limit := fs.Int("limit", 0, "max items to return (0 means no limit)")
	fs.Parse(os.Args[1:])
	if err := c.validate(); err != nil {
		return err
	}
	if len(pairs.item) == 0 {
		return fmt.Errorf("at least one -key is required")
	}

	state, cleanup, err := newDemoState()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := mtcontext.WithTenant(context.Background(), c.tenant)
	items, err := state.backend.Query(ctx, c.table, pairs.item, int32(*limit))
	if err != nil {
		return err
	}
	printItems(items)
	return nil
}

func runScan() error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	c := bindCommonFlags(fs)
	limit := fs.Int("limit", 0, "max items to return (0 means no limit)")
	fs.Parse(os.Args[1:])
	if err := c.validate(); err != nil {
		return err
	}

	state, cleanup, err := newDemoState()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := mtcontext.WithTenant(context.Background(), c.tenant)
	items, err := state.backend.Scan(ctx, c.table, int32(*limit))
	if err != nil {
		return err
	}
	printItems(items)
	return nil
}

func printItems(items []mtdynamo.Item) {
	for _, item := range items {
		fields := make([]string, 0, len(item))
		for name, val := range item {
			if s, ok := val.(*types.AttributeValueMemberS); ok {
				fields = append(fields, fmt.Sprintf("%s=%s", name, s.Value))
			} else {
				fields = append(fields, fmt.Sprintf("%s=%v", name, val))
			}
		}
		fmt.Println(strings.Join(fields, " "))
	}
}
