// Package client talks to a duckprof Flight server.
package client

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/TFMV/duckprof/pkg/errors"
	"github.com/TFMV/duckprof/pkg/handlers"
	"github.com/TFMV/duckprof/pkg/infrastructure/converter"
	"github.com/TFMV/duckprof/pkg/models"
	"github.com/TFMV/duckprof/pkg/server"
)

// Config configures the connection to a server.
type Config struct {
	Address string
	TLS     bool
	// Token is sent as a bearer token. It takes precedence over Username.
	Token    string
	Username string
	Password string
	// Timeout bounds each call. Zero means no limit.
	Timeout time.Duration
}

// Client is a Flight client for the analysis actions and log streams.
type Client struct {
	cfg    Config
	conn   *grpc.ClientConn
	flight flight.Client
	alloc  memory.Allocator
	logger zerolog.Logger
}

// New dials cfg.Address. Extra dial options are appended last.
func New(cfg Config, logger zerolog.Logger, opts ...grpc.DialOption) (*Client, error) {
	if cfg.Address == "" {
		return nil, errors.New(errors.CodeInvalidRequest, "server address is required")
	}

	dialOpts := []grpc.DialOption{transportCredentials(cfg)}
	if auth := authorization(cfg); auth != "" {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(headerCredentials{
			value:  auth,
			secure: cfg.TLS,
		}))
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeUnavailable, "failed to connect to %s", cfg.Address)
	}

	return &Client{
		cfg:    cfg,
		conn:   conn,
		flight: flight.NewClientFromConn(conn, nil),
		alloc:  memory.NewGoAllocator(),
		logger: logger.With().Str("component", "flight_client").Str("address", cfg.Address).Logger(),
	}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Analyze runs the pipeline on query.
func (c *Client) Analyze(ctx context.Context, query string) (*models.AnalysisResult, error) {
	var res models.AnalysisResult
	if err := c.action(ctx, server.ActionAnalyze, []byte(query), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetRecord returns a stored record.
func (c *Client) GetRecord(ctx context.Context, id int64) (*models.QueryRecord, error) {
	var rec models.QueryRecord
	if err := c.action(ctx, server.ActionGetRecord, idBody(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// HasVisualization reports whether a chart exists for id.
func (c *Client) HasVisualization(ctx context.Context, id int64) (*handlers.VisualizationInfo, error) {
	var info handlers.VisualizationInfo
	if err := c.action(ctx, server.ActionHasVisualization, idBody(id), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Summarize returns the narrative for id.
func (c *Client) Summarize(ctx context.Context, id int64) (string, error) {
	var res handlers.SummaryResult
	if err := c.action(ctx, server.ActionSummarize, idBody(id), &res); err != nil {
		return "", err
	}
	return res.Summary, nil
}

// ListRecords reads the log listing stream.
func (c *Client) ListRecords(ctx context.Context, opts models.ListOptions) ([]models.RecordSummary, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	ticket := server.RecordsTicket(opts)
	stream, err := c.flight.DoGet(ctx, &flight.Ticket{Ticket: []byte(ticket)})
	if err != nil {
		return nil, server.FromStatus(err)
	}

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(c.alloc))
	if err != nil {
		return nil, server.FromStatus(err)
	}
	defer reader.Release()

	rows := []models.RecordSummary{}
	for reader.Next() {
		batch, err := converter.DecodeSummaries(reader.Record())
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to decode listing")
		}
		rows = append(rows, batch...)
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		return nil, server.FromStatus(err)
	}

	c.logger.Debug().Str("ticket", ticket).Int("rows", len(rows)).Msg("Listing received")
	return rows, nil
}

// action sends one action and decodes its single JSON result into out.
func (c *Client) action(ctx context.Context, typ string, body []byte, out interface{}) error {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	stream, err := c.flight.DoAction(ctx, &flight.Action{Type: typ, Body: body})
	if err != nil {
		return server.FromStatus(err)
	}

	res, err := stream.Recv()
	if err == io.EOF {
		return errors.New(errors.CodeInternal, fmt.Sprintf("empty %s response", typ))
	}
	if err != nil {
		return server.FromStatus(err)
	}
	for {
		if _, err := stream.Recv(); err != nil {
			break
		}
	}

	if err := json.Unmarshal(res.GetBody(), out); err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to decode %s response", typ)
	}
	c.logger.Debug().Str("action", typ).Msg("Action completed")
	return nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, c.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func idBody(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}

func transportCredentials(cfg Config) grpc.DialOption {
	if cfg.TLS {
		return grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}))
	}
	return grpc.WithTransportCredentials(insecure.NewCredentials())
}

// authorization returns the authorization header value for cfg, if any.
func authorization(cfg Config) string {
	switch {
	case cfg.Token != "":
		return "Bearer " + cfg.Token
	case cfg.Username != "":
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.Username+":"+cfg.Password))
	}
	return ""
}

// headerCredentials attaches a fixed authorization header to every call.
type headerCredentials struct {
	value  string
	secure bool
}

func (h headerCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": h.value}, nil
}

func (h headerCredentials) RequireTransportSecurity() bool {
	return h.secure
}
