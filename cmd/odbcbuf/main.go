package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	konghcl "github.com/alecthomas/kong-hcl/v2"
	"github.com/chzyer/readline"
	"github.com/pkg/errors"
	odbc "github.com/slingdata-io/odbcbuf"
	"github.com/slingdata-io/odbcbuf/internal/log"
)

type arguments struct {
	Config   kong.ConfigFlag `help:"Path to an HCL file with flag defaults." type:"existingfile"`
	DSN      string          `help:"ODBC connection string." required:"" env:"ODBCBUF_DSN"`
	Live     bool            `help:"Read result sets forward-only from the driver instead of buffering them."`
	LimitKB  int64           `help:"Memory limit of a buffered result set in KB." default:"10240"`
	Encoding string          `help:"Encoding of character data." enum:"char,binary,utf8" default:"char"`
	Charset  string          `help:"IANA charset of narrow strings under the char encoding, e.g. windows-1252."`
	Timeout  time.Duration   `help:"Query timeout, 0 for none."`
	VI       bool            `help:"Enable VI mode."`
	Log      log.Config      `help:"Configuration for the logger" embed:"" prefix:"log-"`
	Query    string          `arg:"" optional:"" help:"Query to run. An interactive shell starts when it is omitted."`
}

func main() {
	var args arguments
	parser, err := kong.New(&args,
		kong.Description("Run queries through a client side buffered ODBC result set."),
		kong.Configuration(konghcl.Loader, "~/.odbcbuf.hcl"),
	)
	if err != nil {
		panic(err)
	}
	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	kctx.FatalIfErrorf(args.Log.Configure())

	conn, err := connect(&args)
	kctx.FatalIfErrorf(err)
	defer conn.Close()

	sh := newShell(connQuerier{conn}, !args.Live, os.Stdout)
	ctx := context.Background()

	if args.Query != "" {
		err = sh.query(ctx, args.Query)
		if err == nil {
			err = sh.dump()
		}
		if cerr := sh.closeResult(); err == nil {
			err = cerr
		}
		kctx.FatalIfErrorf(err)
		return
	}

	kctx.FatalIfErrorf(interactive(kctx, sh, args.VI))
}

func connect(a *arguments) (*odbc.Conn, error) {
	enc, err := odbc.ParseEncoding(a.Encoding)
	if err != nil {
		return nil, err
	}
	opts := []odbc.ConnectorOption{
		odbc.WithBufferedQueries(!a.Live),
		odbc.WithBufferedQueryLimit(a.LimitKB),
		odbc.WithEncoding(enc),
		odbc.WithQueryTimeout(a.Timeout),
	}
	if a.Charset != "" {
		cs, err := odbc.CharsetByName(a.Charset)
		if err != nil {
			return nil, err
		}
		opts = append(opts, odbc.WithCharset(cs))
	}

	connector, err := odbc.NewConnector(a.DSN, opts...)
	if err != nil {
		return nil, err
	}
	dc, err := connector.Connect(context.Background())
	if err != nil {
		return nil, errors.Wrap(err, "connecting")
	}
	return dc.(*odbc.Conn), nil
}

func interactive(kctx *kong.Context, sh *shell, vi bool) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	rl, err := readline.NewEx(&readline.Config{
		HistoryFile:            filepath.Join(home, ".odbcbuf.history"),
		DisableAutoSaveHistory: true,
		VimMode:                vi,
	})
	if err != nil {
		return err
	}
	defer rl.Close()
	defer sh.closeResult()

	for {
		// Gather a multi-line statement terminated by a ; or a single dot command
		rl.SetPrompt("odbcbuf> ")
		var lines []string
		for {
			line, err := rl.Readline()
			if err == io.EOF {
				return nil
			}
			if err == readline.ErrInterrupt {
				lines = nil
				break
			}
			if err != nil {
				return err
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if len(lines) == 0 && (line == ".quit" || line == ".exit") {
				return nil
			}
			lines = append(lines, line)
			if strings.HasPrefix(lines[0], ".") || strings.HasSuffix(line, ";") {
				break
			}
			rl.SetPrompt("       -> ")
		}
		if len(lines) == 0 {
			continue
		}
		statement := strings.Join(lines, " ")
		_ = rl.SaveHistory(statement)

		if err := sh.execute(context.Background(), statement); err != nil {
			kctx.Errorf("%s", err)
		}
	}
}
