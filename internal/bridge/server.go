package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/luma/worldql/client"
	"github.com/luma/worldql/identity"
	"github.com/luma/worldql/protocol"
	"github.com/luma/worldql/storage"
)

var ErrInvalidPosition = errors.New("Position needs all of x, y and z")

type Options struct {
	Client Client
	Store  storage.Store

	// RequestTimeout bounds each call to the server, zero means only the
	// HTTP request context applies
	RequestTimeout time.Duration

	DebugHTTP bool

	Log *zap.Logger
}

// Server exposes a Client over HTTP.
type Server struct {
	client  Client
	mirror  *Mirror
	timeout time.Duration
	router  *gin.Engine

	log *zap.Logger
}

func New(options Options) *Server {
	if options.Log == nil {
		options.Log = zap.NewNop()
	}

	s := &Server{
		client:  options.Client,
		mirror:  NewMirror(options.Client, options.Store),
		timeout: options.RequestTimeout,
		log:     options.Log.Named("bridge"),
	}

	s.router = setupRouter(options.DebugHTTP, s.log)
	s.routes()

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Ping test
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	r.GET("/status", s.status)
	r.GET("/backup", s.backup)

	world := r.Group("/worlds/:world")
	world.POST("/messages", s.postMessage)
	world.PUT("/subscription", s.worldSubscription(true))
	world.DELETE("/subscription", s.worldSubscription(false))
	world.PUT("/areas", s.areaSubscription(true))
	world.DELETE("/areas", s.areaSubscription(false))
	world.GET("/records", s.getRecords)
	world.PUT("/records", s.putRecords)
	world.DELETE("/records", s.clearRecords)
	world.DELETE("/records/:uuid", s.deleteRecord)
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Logs all requests, like a combined access and error log, in UTC
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

type statusResponse struct {
	State string `json:"state"`
	UUID  string `json:"uuid,omitempty"`
}

func (s *Server) status(c *gin.Context) {
	resp := statusResponse{State: s.client.State().String()}

	if uuid, err := s.client.UUID(); err == nil {
		resp.UUID = uuid
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) backup(c *gin.Context) {
	values, err := s.mirror.Store().Backup()
	if err != nil {
		s.fail(c, err)
		return
	}

	c.Data(http.StatusOK, "application/json", values)
}

type messageRequest struct {
	Replication protocol.Replication `json:"replication"`
	Position    *[3]float64          `json:"position"`
	Parameter   *string              `json:"parameter"`
	Flex        *[]byte              `json:"flex"`
	Records     []recordJSON         `json:"records" binding:"dive"`
}

func (s *Server) postMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	payload := protocol.Payload{Parameter: req.Parameter}
	if req.Flex != nil {
		payload.Flex = protocol.NewBlob(*req.Flex)
	}

	if req.Records != nil {
		records, err := toRecords(c.Param("world"), req.Records)
		if err != nil {
			s.badRequest(c, err)
			return
		}
		payload.Records = records
	}

	var err error
	if req.Position != nil {
		err = s.client.LocalMessage(c.Param("world"), protocol.Tuple(*req.Position), req.Replication, payload)
	} else {
		err = s.client.GlobalMessage(c.Param("world"), req.Replication, payload)
	}

	if err != nil {
		s.fail(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}

func (s *Server) worldSubscription(subscribe bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := s.requestContext(c)
		defer cancel()

		var err error
		if subscribe {
			err = s.client.WorldSubscribe(ctx, c.Param("world"))
		} else {
			err = s.client.WorldUnsubscribe(ctx, c.Param("world"))
		}

		if err != nil {
			s.fail(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

func (s *Server) areaSubscription(subscribe bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		position, ok, err := queryPosition(c)
		if err == nil && !ok {
			err = ErrInvalidPosition
		}

		if err != nil {
			s.badRequest(c, err)
			return
		}

		ctx, cancel := s.requestContext(c)
		defer cancel()

		if subscribe {
			err = s.client.AreaSubscribe(ctx, c.Param("world"), position)
		} else {
			err = s.client.AreaUnsubscribe(ctx, c.Param("world"), position)
		}

		if err != nil {
			s.fail(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// getRecords reads from the server when given a position or uuids and
// from the local mirror otherwise.
func (s *Server) getRecords(c *gin.Context) {
	worldName := c.Param("world")

	position, byArea, err := queryPosition(c)
	if err != nil {
		s.badRequest(c, err)
		return
	}

	var ids []identity.ID
	for _, raw := range c.QueryArray("uuid") {
		id, err := identity.Parse(raw)
		if err != nil {
			s.badRequest(c, err)
			return
		}
		ids = append(ids, id)
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	var records []protocol.Record
	switch {
	case byArea:
		records, err = s.mirror.GetArea(ctx, worldName, position)

	case len(ids) > 0:
		records, err = s.mirror.GetUUIDs(ctx, worldName, ids...)

	default:
		records, err = s.mirror.Store().List(ctx, worldName)
	}

	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"records": fromRecords(records)})
}

type putRecordsRequest struct {
	Records []recordJSON `json:"records" binding:"required,dive"`
}

func (s *Server) putRecords(c *gin.Context) {
	var req putRecordsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	records, err := toRecords(c.Param("world"), req.Records)
	if err != nil {
		s.badRequest(c, err)
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.mirror.Set(ctx, records...); err != nil {
		s.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) deleteRecord(c *gin.Context) {
	id, err := identity.Parse(c.Param("uuid"))
	if err != nil {
		s.badRequest(c, err)
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.mirror.Delete(ctx, protocol.Record{UUID: id, WorldName: c.Param("world")}); err != nil {
		s.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) clearRecords(c *gin.Context) {
	position, byArea, err := queryPosition(c)
	if err != nil {
		s.badRequest(c, err)
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	if byArea {
		err = s.mirror.ClearArea(ctx, c.Param("world"), position)
	} else {
		err = s.mirror.ClearWorld(ctx, c.Param("world"))
	}

	if err != nil {
		s.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}

	return context.WithTimeout(c.Request.Context(), s.timeout)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int64  `json:"code,omitempty"`
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
}

// fail maps client errors onto HTTP statuses.
func (s *Server) fail(c *gin.Context, err error) {
	var serverErr *client.ServerError

	switch {
	case errors.As(err, &serverErr):
		c.AbortWithStatusJSON(http.StatusBadGateway, errorResponse{Error: serverErr.Message, Code: serverErr.Code})

	case errors.Is(err, protocol.ErrMalformedMessage):
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error()})

	case errors.Is(err, client.ErrNotReady), errors.Is(err, client.ErrDisconnected):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})

	case errors.Is(err, client.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, errorResponse{Error: err.Error()})

	default:
		s.log.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

type positionQuery struct {
	X *float64 `form:"x"`
	Y *float64 `form:"y"`
	Z *float64 `form:"z"`
}

// queryPosition reads x, y and z from the query string. ok is false when
// none are given.
func queryPosition(c *gin.Context) (protocol.Vector3, bool, error) {
	var q positionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		return protocol.Vector3{}, false, err
	}

	switch {
	case q.X == nil && q.Y == nil && q.Z == nil:
		return protocol.Vector3{}, false, nil

	case q.X == nil || q.Y == nil || q.Z == nil:
		return protocol.Vector3{}, false, ErrInvalidPosition
	}

	return protocol.Vec3(*q.X, *q.Y, *q.Z), true, nil
}

// recordJSON is the HTTP shape of a record. Flex is base64.
type recordJSON struct {
	UUID      string     `json:"uuid" binding:"required,uuid"`
	WorldName string     `json:"world_name,omitempty"`
	Position  [3]float64 `json:"position"`
	Data      *string    `json:"data,omitempty"`
	Flex      *[]byte    `json:"flex,omitempty"`
}

// toRecords converts records from a request, defaulting their world to
// worldName.
func toRecords(worldName string, in []recordJSON) ([]protocol.Record, error) {
	records := make([]protocol.Record, 0, len(in))

	for _, r := range in {
		id, err := identity.Parse(r.UUID)
		if err != nil {
			return nil, fmt.Errorf("Failed to parse record uuid '%s': %w", r.UUID, err)
		}

		record := protocol.Record{
			UUID:      id,
			WorldName: r.WorldName,
			Position:  protocol.Tuple(r.Position).Vector3(),
			Data:      r.Data,
		}

		if record.WorldName == "" {
			record.WorldName = worldName
		}

		if r.Flex != nil {
			record.Flex = protocol.NewBlob(*r.Flex)
		}

		records = append(records, record)
	}

	return records, nil
}

func fromRecords(records []protocol.Record) []recordJSON {
	out := make([]recordJSON, 0, len(records))

	for _, record := range records {
		r := recordJSON{
			UUID:      record.UUID.String(),
			WorldName: record.WorldName,
			Position:  [3]float64{record.Position.X, record.Position.Y, record.Position.Z},
			Data:      record.Data,
		}

		if record.Flex.Present() {
			flex := record.Flex.Bytes()
			r.Flex = &flex
		}

		out = append(out, r)
	}

	return out
}
