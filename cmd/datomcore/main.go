// Command datomcore is a thin CLI front end for the library: enough to
// bootstrap a SQLite-backed store, transact text, run a point query, and
// manage the attribute cache, all wired against the package's own
// reference Parser/Transactor/QueryEngine/AttributeFetcher.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/estuary/datomcore/cache"
	"github.com/estuary/datomcore/conn"
	"github.com/estuary/datomcore/schema"
	"github.com/estuary/datomcore/txdata/txdatatest"
)

var Config = new(struct {
	Log LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

func main() {
	var parser = flags.NewParser(Config, flags.HelpFlag|flags.PassDoubleDash)

	addCmd(parser, "bootstrap", "Bootstrap a store and print its schema", `
Opens (creating if absent) a SQLite-backed store and prints the
currently installed attributes.
`, &cmdBootstrap{})

	addCmd(parser, "transact", "Apply transaction text to a store", `
Parses and applies transaction text against a store, printing the
resulting tx id and any resolved tempids. Reads from stdin if --text is
not given.
`, &cmdTransact{})

	addCmd(parser, "query", "Run a single point query", `
Runs a single [:find ?x . :where [?e attr ?v]] query against a store's
current state, given one bound input.
`, &cmdQuery{})

	addCmd(parser, "cache", "Register or deregister an attribute cache entry", `
Registers (eager or lazy) or deregisters an attribute with the store's
attribute cache.
`, &cmdCache{})

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		log.WithField("err", err).Fatal("command failed")
	}
}

func addCmd(to interface {
	AddCommand(string, string, string, interface{}) (*flags.Command, error)
}, a, b, c string, iface interface{}) *flags.Command {
	cmd, err := to.AddCommand(a, b, c, iface)
	if err != nil {
		log.WithField("err", err).Fatal("failed to add flags parser command")
	}
	return cmd
}

func dependencies() conn.Dependencies {
	return conn.Dependencies{
		Transactor:        txdatatest.NewTransactor(),
		Parser:            txdatatest.NewParser(),
		QueryEngine:       txdatatest.NewQueryEngine(),
		AttributeFetcher:  txdatatest.NewAttributeFetcher(),
		LazyCacheCapacity: cache.DefaultLazyCapacity,
	}
}

type databaseArg struct {
	Database string `long:"database" required:"true" description:"Path to the SQLite database file, or :memory:"`
}

type cmdBootstrap struct {
	databaseArg
}

func (c *cmdBootstrap) Execute(_ []string) error {
	initLog(Config.Log)
	ctx := context.Background()

	store, err := conn.Open(ctx, c.Database, dependencies())
	if err != nil {
		return err
	}
	defer store.Close()

	sch, err := store.Conn.CurrentSchema()
	if err != nil {
		return err
	}

	for _, a := range sch.Attributes() {
		fmt.Printf("%s\tentid=%d\tvalueType=%s\tcardinality=%v\n", a.Ident, a.Entid, a.ValueType, a.Cardinality)
	}
	return nil
}

type cmdTransact struct {
	databaseArg
	Text string `long:"text" description:"Transaction text; read from stdin if omitted"`
}

func (c *cmdTransact) Execute(_ []string) error {
	initLog(Config.Log)
	ctx := context.Background()

	text := c.Text
	if text == "" {
		buf, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading transaction text from stdin: %w", err)
		}
		text = string(buf)
	}

	store, err := conn.Open(ctx, c.Database, dependencies())
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := store.Conn.Transact(ctx, text)
	if err != nil {
		return err
	}

	fmt.Printf("tx=%d\n", report.TxID)
	for name, id := range report.Tempids {
		fmt.Printf("tempid %s -> %d\n", name, id)
	}
	return nil
}

type cmdQuery struct {
	databaseArg
	Query string `long:"query" required:"true" description:"Query text, e.g. [:find ?e . :where [?e :person/name ?v]]"`
	Input string `long:"input" required:"true" description:"The single bound input literal"`
}

func (c *cmdQuery) Execute(_ []string) error {
	initLog(Config.Log)
	ctx := context.Background()

	input, err := parseLiteral(c.Input)
	if err != nil {
		return fmt.Errorf("parsing --input: %w", err)
	}

	store, err := conn.Open(ctx, c.Database, dependencies())
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := store.Conn.QOnce(ctx, c.Query, []schema.Value{input})
	if err != nil {
		return err
	}

	if result.Value == nil {
		fmt.Println("(no result)")
		return nil
	}
	fmt.Println(result.Value.GoString())
	return nil
}

type cmdCache struct {
	databaseArg
	Ident  string `long:"ident" required:"true" description:"Attribute ident, e.g. :person/name"`
	Action string `long:"action" required:"true" choice:"register" choice:"deregister"`
	Mode   string `long:"mode" default:"eager" choice:"eager" choice:"lazy"`
}

func (c *cmdCache) Execute(_ []string) error {
	initLog(Config.Log)
	ctx := context.Background()

	ident, err := schema.ParseIdent(c.Ident)
	if err != nil {
		return err
	}

	store, err := conn.Open(ctx, c.Database, dependencies())
	if err != nil {
		return err
	}
	defer store.Close()

	action := conn.CacheRegister
	if c.Action == "deregister" {
		action = conn.CacheDeregister
	}
	mode := cache.ModeEager
	if c.Mode == "lazy" {
		mode = cache.ModeLazy
	}

	return store.Conn.Cache(ctx, ident, action, mode)
}

// parseLiteral accepts a keyword, an integer, or a float; any other text
// is taken verbatim as a string (surrounding quotes are not stripped, and
// true/false are not read as booleans).
func parseLiteral(text string) (schema.Value, error) {
	if strings.HasPrefix(text, ":") {
		ident, err := schema.ParseIdent(text)
		if err != nil {
			return schema.Value{}, err
		}
		return schema.NewKeyword(ident), nil
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return schema.NewLong(n), nil
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return schema.NewDouble(f), nil
	}
	return schema.NewString(text), nil
}
