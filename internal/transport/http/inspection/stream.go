package inspection

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	domaininspection "sunforge-server/internal/domain/inspection"
	httptransport "sunforge-server/internal/transport/http"
)

const streamWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type progressMessage struct {
	Type    string `json:"type"`
	Percent int    `json:"percent"`
}

type resultMessage struct {
	Type string `json:"type"`
	*inspectResponse
}

type errorMessage struct {
	Type string `json:"type"`
	failureResponse
}

// streamConn serializes writes to one websocket.
type streamConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (sc *streamConn) send(v any) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_ = sc.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return sc.conn.WriteJSON(v)
}

func (sc *streamConn) close(code int, text string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = sc.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	_ = sc.conn.Close()
}

// handleStream runs one inspection over a websocket: the client sends a
// single JSON submission, the server answers with progress ticks and then
// exactly one result or error message. Closing the socket early cancels the
// inference call.
func (s *Service) handleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WarnTag("Inspection", "stream upgrade failed: %v", err)
		return
	}
	sc := &streamConn{conn: conn}
	requestID := httptransport.RequestID(c)

	conn.SetReadLimit(s.maxJSONBody)
	_, raw, err := conn.ReadMessage()
	if err != nil {
		s.logger.DebugTag("Inspection", "stream %s closed before submission: %v", requestID, err)
		_ = conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The only reads after the submission are control frames; an error
	// means the client went away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	resp, err := s.streamInspect(ctx, sc, requestID, raw)
	if err != nil {
		if ctx.Err() != nil && c.Request.Context().Err() == nil {
			s.logger.InfoTag("Inspection", "stream %s abandoned by client", requestID)
		}
		f := domaininspection.Classify(err)
		_ = sc.send(errorMessage{Type: "error", failureResponse: failureBody(requestID, f)})
		sc.close(websocket.CloseNormalClosure, string(f.Kind))
		return
	}

	_ = sc.send(resultMessage{Type: "result", inspectResponse: resp})
	sc.close(websocket.CloseNormalClosure, "done")
}

func (s *Service) streamInspect(ctx context.Context, sc *streamConn, requestID string, raw []byte) (*inspectResponse, error) {
	upload, err := s.uploadFromJSON(raw)
	if err != nil {
		return nil, err
	}
	upload.Source = "stream"

	payload, err := s.pipeline.Accept(ctx, upload)
	if err != nil {
		return nil, err
	}

	stop := domaininspection.TrackProgress(ctx, s.progressInterval, func(percent int) {
		_ = sc.send(progressMessage{Type: "progress", Percent: percent})
	})
	resp, err := s.run(ctx, requestID, payload, false)
	stop()
	return resp, err
}
