package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Bayrooo/webrtc-photo-booth-client/internal/compositor"
	"github.com/Bayrooo/webrtc-photo-booth-client/internal/domain"
	"github.com/Bayrooo/webrtc-photo-booth-client/internal/media"
	"github.com/Bayrooo/webrtc-photo-booth-client/internal/observability"
	"github.com/Bayrooo/webrtc-photo-booth-client/internal/session"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Options configures the control surface.
type Options struct {
	// Mode is a gin mode: "debug", "release" or "test".
	Mode      string
	FramesDir string
	// RegisterTimeout bounds how long room requests wait for the relay.
	RegisterTimeout time.Duration
	// AllowOrigins lists CORS origins; nil allows any origin.
	AllowOrigins []string
}

// Server exposes the booth over HTTP. Every user action in the booth maps
// to one route.
type Server struct {
	camera  *media.Manager
	session *session.Session
	studio  *compositor.Studio
	opts    Options
	router  *gin.Engine
}

// New builds the router.
func New(camera *media.Manager, sess *session.Session, studio *compositor.Studio, opts Options) *Server {
	if opts.RegisterTimeout <= 0 {
		opts.RegisterTimeout = 10 * time.Second
	}
	switch opts.Mode {
	case gin.ReleaseMode, gin.TestMode, gin.DebugMode:
		gin.SetMode(opts.Mode)
	}

	observability.RegisterMetrics()
	r := gin.New()
	if opts.Mode == gin.DebugMode {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	if len(opts.AllowOrigins) == 0 {
		r.Use(cors.Default())
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins: opts.AllowOrigins,
			AllowMethods: []string{"GET", "POST", "PUT"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}

	s := &Server{camera: camera, session: sess, studio: studio, opts: opts, router: r}
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	if s.opts.FramesDir != "" {
		r.Static("/frames", s.opts.FramesDir)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.POST("/camera/start", s.startCamera)
	api.POST("/camera/stop", s.stopCamera)

	api.GET("/session", s.sessionInfo)
	api.POST("/room", s.createRoom)
	api.POST("/room/join", s.joinRoom)
	api.POST("/room/leave", s.leaveRoom)

	api.GET("/composition", s.composition)
	api.PUT("/composition", s.setComposition)
	api.GET("/filters", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"filters": compositor.Filters()})
	})
	api.POST("/capture", s.capture)
	api.GET("/photo", s.photo)
	api.GET("/photo/datauri", s.photoDataURI)

	log.Info().Str("module", "server").Str("frames", s.opts.FramesDir).Msg("router setup")
}

type sessionView struct {
	State     string        `json:"state"`
	ID        string        `json:"id,omitempty"`
	Role      string        `json:"role"`
	Status    domain.Status `json:"status"`
	Camera    bool          `json:"camera"`
	Connected bool          `json:"connected"`
}

func (s *Server) view() sessionView {
	st := s.session.State()
	return sessionView{
		State:     st.String(),
		ID:        string(s.session.ID()),
		Role:      s.session.Role().String(),
		Status:    s.session.Status(),
		Camera:    s.camera.Ready(),
		Connected: st.Connected(),
	}
}

func (s *Server) sessionInfo(c *gin.Context) {
	c.JSON(http.StatusOK, s.view())
}

func (s *Server) startCamera(c *gin.Context) {
	if _, err := s.camera.Start(c.Request.Context()); err != nil {
		s.session.CameraFailed(err)
		abort(c, err)
		return
	}
	s.session.CameraStarted()
	c.JSON(http.StatusOK, s.view())
}

func (s *Server) stopCamera(c *gin.Context) {
	s.session.CameraStopped()
	s.camera.Stop()
	c.JSON(http.StatusOK, s.view())
}

func (s *Server) createRoom(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.RegisterTimeout)
	defer cancel()
	if err := s.session.CreateRoom(ctx, s.camera.Local()); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.view())
}

type joinRequest struct {
	Target string `json:"target"`
}

func (s *Server) joinRoom(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.RegisterTimeout)
	defer cancel()
	if err := s.session.JoinRoom(ctx, s.camera.Local(), domain.PeerID(req.Target)); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.view())
}

func (s *Server) leaveRoom(c *gin.Context) {
	s.session.Leave()
	c.JSON(http.StatusOK, s.view())
}

func (s *Server) composition(c *gin.Context) {
	c.JSON(http.StatusOK, s.studio.Config())
}

// compositionRequest leaves a field unchanged when it is absent.
type compositionRequest struct {
	Filter *string `json:"filter"`
	Frame  *string `json:"frame"`
}

func (s *Server) setComposition(c *gin.Context) {
	var req compositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Filter != nil {
		if err := s.studio.SetFilter(*req.Filter); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Frame != nil {
		if err := s.studio.SetFrame(*req.Frame); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, s.studio.Config())
}

type photoView struct {
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	Filter  string    `json:"filter"`
	Frame   string    `json:"frame"`
	Duo     bool      `json:"duo"`
	Bytes   int       `json:"bytes"`
	TakenAt time.Time `json:"taken_at"`
}

func (s *Server) capture(c *gin.Context) {
	src := compositor.Sources{Local: s.camera.Local(), Remote: s.session.RemoteStream()}

	start := time.Now()
	p, err := s.studio.Capture(c.Request.Context(), src)
	if err != nil {
		observability.RecordCapture(false, layoutLabel(src.Remote != nil), 0)
		abort(c, err)
		return
	}
	observability.RecordCapture(true, layoutLabel(p.Duo), time.Since(start))
	c.JSON(http.StatusCreated, photoView{
		Width:   p.Width,
		Height:  p.Height,
		Filter:  p.Filter,
		Frame:   p.Frame,
		Duo:     p.Duo,
		Bytes:   len(p.PNG),
		TakenAt: p.TakenAt,
	})
}

func (s *Server) photo(c *gin.Context) {
	p := s.studio.Photo()
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no photo taken"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+compositor.Filename+`"`)
	c.Header("Content-Length", strconv.Itoa(len(p.PNG)))
	c.Data(http.StatusOK, "image/png", p.PNG)
}

func (s *Server) photoDataURI(c *gin.Context) {
	p := s.studio.Photo()
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no photo taken"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"filename": compositor.Filename, "uri": p.DataURI()})
}

func layoutLabel(duo bool) string {
	if duo {
		return "duo"
	}
	return "solo"
}

// abort writes err with the status its kind maps to.
func abort(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	if kind, ok := domain.StatusForError(err); ok {
		body["kind"] = kind
	}
	c.JSON(status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNoCamera), errors.Is(err, domain.ErrMissingTarget):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCameraUnavailable), errors.Is(err, domain.ErrSessionSuperseded):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSignalingUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrCallUnreachable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrOverlayUnavailable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
