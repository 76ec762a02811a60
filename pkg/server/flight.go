// Package server exposes the analysis engine over Arrow Flight.
package server

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	arrowmemory "github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/TFMV/duckprof/pkg/errors"
	"github.com/TFMV/duckprof/pkg/handlers"
	"github.com/TFMV/duckprof/pkg/models"
)

// Action types served by DoAction.
const (
	ActionAnalyze          = "analyze"
	ActionGetRecord        = "get_record"
	ActionHasVisualization = "has_visualization"
	ActionSummarize        = "summarize"
)

// Ticket prefixes served by DoGet.
const (
	TicketRecords = "records"
	TicketRecord  = "record:"
)

var actionTypes = []*flight.ActionType{
	{Type: ActionAnalyze, Description: "Analyze the SQL in the body; returns the JSON analysis result."},
	{Type: ActionGetRecord, Description: "Return the JSON query record for the id in the body."},
	{Type: ActionHasVisualization, Description: "Report whether a chart exists for the id in the body."},
	{Type: ActionSummarize, Description: "Return a narrative summary for the id in the body."},
}

// FlightServer implements the Flight service for the analysis engine.
type FlightServer struct {
	flight.BaseFlightServer

	handler   handlers.AnalysisHandler
	allocator arrowmemory.Allocator
	logger    zerolog.Logger

	mu      sync.RWMutex
	closing bool
}

// New creates a Flight server over handler.
func New(handler handlers.AnalysisHandler, allocator arrowmemory.Allocator, logger zerolog.Logger) *FlightServer {
	if allocator == nil {
		allocator = arrowmemory.NewGoAllocator()
	}
	return &FlightServer{
		handler:   handler,
		allocator: allocator,
		logger:    logger.With().Str("component", "flight").Logger(),
	}
}

// Register registers the Flight service with a gRPC server.
func (s *FlightServer) Register(grpcServer *grpc.Server) {
	flight.RegisterFlightServiceServer(grpcServer, s)
}

// Close rejects further requests.
func (s *FlightServer) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.logger.Info().Msg("Flight server closed")
	return nil
}

func (s *FlightServer) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closing {
		return status.Error(codes.Unavailable, "server is shutting down")
	}
	return nil
}

// ListActions lists the supported actions.
func (s *FlightServer) ListActions(_ *flight.Empty, stream flight.FlightService_ListActionsServer) error {
	for _, a := range actionTypes {
		if err := stream.Send(a); err != nil {
			return err
		}
	}
	return nil
}

// DoAction runs one engine action and sends its JSON result.
func (s *FlightServer) DoAction(action *flight.Action, stream flight.FlightService_DoActionServer) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	ctx := stream.Context()
	var (
		body []byte
		err  error
	)
	switch action.GetType() {
	case ActionAnalyze:
		body, err = s.handler.Analyze(ctx, action.GetBody())
	case ActionGetRecord:
		body, err = s.handler.GetRecord(ctx, action.GetBody())
	case ActionHasVisualization:
		body, err = s.handler.HasVisualization(ctx, action.GetBody())
	case ActionSummarize:
		body, err = s.handler.Summarize(ctx, action.GetBody())
	default:
		return status.Errorf(codes.Unimplemented, "unknown action: %s", action.GetType())
	}
	if err != nil {
		return ToStatus(err)
	}

	return stream.Send(&flight.Result{Body: body})
}

// GetFlightInfo describes the stream behind a ticket given as the
// descriptor command or first path element.
func (s *FlightServer) GetFlightInfo(ctx context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	ticket := descriptorTicket(desc)
	req, err := ParseTicket(ticket)
	if err != nil {
		return nil, ToStatus(err)
	}

	schema := models.RecordSummarySchema()
	if req.Single {
		schema = models.QueryRecordSchema()
	}

	return &flight.FlightInfo{
		Schema:           flight.SerializeSchema(schema, s.allocator),
		FlightDescriptor: desc,
		Endpoint: []*flight.FlightEndpoint{{
			Ticket: &flight.Ticket{Ticket: []byte(ticket)},
		}},
		TotalRecords: -1,
		TotalBytes:   -1,
	}, nil
}

// DoGet streams the records named by the ticket.
func (s *FlightServer) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	req, err := ParseTicket(string(tkt.GetTicket()))
	if err != nil {
		return ToStatus(err)
	}

	ctx := stream.Context()
	var (
		schema *arrow.Schema
		chunks <-chan flight.StreamChunk
	)
	if req.Single {
		schema, chunks, err = s.handler.StreamRecord(ctx, req.QueryID)
	} else {
		schema, chunks, err = s.handler.StreamSummaries(ctx, req.List)
	}
	if err != nil {
		return ToStatus(err)
	}

	w := flight.NewRecordWriter(stream, ipc.WithSchema(schema), ipc.WithAllocator(s.allocator))
	defer w.Close()

	for chunk := range chunks {
		if chunk.Err != nil {
			drain(chunks)
			return ToStatus(chunk.Err)
		}
		err := w.Write(chunk.Data)
		chunk.Data.Release()
		if err != nil {
			drain(chunks)
			return status.Errorf(codes.Internal, "failed to write batch: %v", err)
		}
	}
	return nil
}

func drain(chunks <-chan flight.StreamChunk) {
	for c := range chunks {
		if c.Data != nil {
			c.Data.Release()
		}
	}
}

func descriptorTicket(desc *flight.FlightDescriptor) string {
	if desc == nil {
		return ""
	}
	if desc.GetType() == flight.DescriptorPATH && len(desc.GetPath()) > 0 {
		return desc.GetPath()[0]
	}
	return string(desc.GetCmd())
}

// TicketRequest is a parsed DoGet ticket.
type TicketRequest struct {
	Single  bool
	QueryID int64
	List    models.ListOptions
}

// ParseTicket parses "records", "records?order_by=logged_at&limit=10"
// and "record:<id>".
func ParseTicket(ticket string) (TicketRequest, error) {
	ticket = strings.TrimSpace(ticket)

	if rest, ok := strings.CutPrefix(ticket, TicketRecord); ok {
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return TicketRequest{}, errors.New(errors.CodeInvalidRequest, fmt.Sprintf("invalid record ticket: %q", ticket))
		}
		return TicketRequest{Single: true, QueryID: id}, nil
	}

	name, rawQuery, _ := strings.Cut(ticket, "?")
	if name != TicketRecords {
		return TicketRequest{}, errors.New(errors.CodeInvalidRequest, fmt.Sprintf("unknown ticket: %q", ticket))
	}

	var opts models.ListOptions
	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		return TicketRequest{}, errors.Wrap(err, errors.CodeInvalidRequest, "invalid ticket parameters")
	}
	if v := params.Get("order_by"); v != "" {
		opts.OrderBy = models.ListOrder(v)
		if !opts.OrderBy.Valid() {
			return TicketRequest{}, errors.New(errors.CodeInvalidRequest, fmt.Sprintf("unknown order_by: %q", v))
		}
	}
	if v := params.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return TicketRequest{}, errors.New(errors.CodeInvalidRequest, fmt.Sprintf("invalid limit: %q", v))
		}
		opts.Limit = limit
	}
	return TicketRequest{List: opts}, nil
}

// ToStatus maps a coded error to a gRPC status.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var code codes.Code
	switch errors.GetCode(err) {
	case errors.CodeInvalidRequest, errors.CodeQueryFailed:
		code = codes.InvalidArgument
	case errors.CodeNotFound:
		code = codes.NotFound
	case errors.CodeUnauthorized:
		code = codes.Unauthenticated
	case errors.CodeUnavailable:
		code = codes.Unavailable
	case errors.CodeDeadlineExceeded:
		code = codes.DeadlineExceeded
	case errors.CodeCanceled:
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return status.Error(code, errors.GetMessage(err))
}

// FromStatus maps a gRPC status back to a coded error.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return err
	}

	var code string
	switch st.Code() {
	case codes.InvalidArgument:
		code = errors.CodeInvalidRequest
	case codes.NotFound:
		code = errors.CodeNotFound
	case codes.Unauthenticated, codes.PermissionDenied:
		code = errors.CodeUnauthorized
	case codes.Unavailable:
		code = errors.CodeUnavailable
	case codes.DeadlineExceeded:
		code = errors.CodeDeadlineExceeded
	case codes.Canceled:
		code = errors.CodeCanceled
	default:
		code = errors.CodeInternal
	}
	return errors.New(code, st.Message())
}

// RecordsTicket builds the listing ticket for opts.
func RecordsTicket(opts models.ListOptions) string {
	params := url.Values{}
	if opts.OrderBy != "" {
		params.Set("order_by", string(opts.OrderBy))
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if len(params) == 0 {
		return TicketRecords
	}
	return TicketRecords + "?" + params.Encode()
}
