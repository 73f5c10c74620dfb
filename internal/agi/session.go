package agi

import (
    "bufio"
    "context"
    "fmt"
    "net"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/etncore/ars/internal/router"
    "github.com/etncore/ars/pkg/errors"
    "github.com/etncore/ars/pkg/logger"
)

// Session is one FastAGI connection and doubles as the router's call
// leg. All commands flow over the single AGI socket; cmdMu serializes
// them because the preemption arbiter may act from another goroutine.
type Session struct {
    id     string
    legID  string
    conn   net.Conn
    reader *bufio.Reader
    writer *bufio.Writer
    env    map[string]string
    server *Server

    ctx    context.Context
    cancel context.CancelFunc

    cmdMu      sync.Mutex
    lastActMtx sync.Mutex
    lastAct    time.Time

    hangupOnce sync.Once
    hangupCh   chan struct{}

    softMu        sync.Mutex
    softRequested bool
    softCause     string
}

func newSession(conn net.Conn, s *Server) *Session {
    ctx, cancel := context.WithCancel(context.Background())
    return &Session{
        id:       fmt.Sprintf("%s-%d", conn.RemoteAddr().String(), time.Now().UnixNano()),
        conn:     conn,
        reader:   bufio.NewReader(conn),
        writer:   bufio.NewWriter(conn),
        env:      make(map[string]string),
        server:   s,
        ctx:      ctx,
        cancel:   cancel,
        lastAct:  time.Now(),
        hangupCh: make(chan struct{}),
    }
}

func (session *Session) readEnv() error {
    session.touch()

    for {
        line, err := session.reader.ReadString('\n')
        if err != nil {
            return err
        }

        line = strings.TrimSpace(line)
        if line == "" {
            break
        }

        parts := strings.SplitN(line, ":", 2)
        if len(parts) == 2 {
            session.env[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
        }
    }

    return nil
}

// command sends one AGI command and reads its response line.
// An unsolicited HANGUP line means the caller dropped; the pending
// command's real response still follows it.
func (session *Session) command(cmd string) (string, error) {
    session.cmdMu.Lock()
    defer session.cmdMu.Unlock()
    session.touch()

    session.conn.SetWriteDeadline(time.Now().Add(session.server.config.WriteTimeout))
    if _, err := session.writer.WriteString(cmd + "\n"); err != nil {
        return "", errors.Wrap(err, errors.ErrLegIO, "AGI write failed")
    }
    if err := session.writer.Flush(); err != nil {
        return "", errors.Wrap(err, errors.ErrLegIO, "AGI write failed")
    }

    for {
        session.conn.SetReadDeadline(time.Now().Add(session.server.config.ReadTimeout))
        line, err := session.reader.ReadString('\n')
        if err != nil {
            session.markHangup()
            return "", errors.Wrap(err, errors.ErrHangup, "AGI connection lost")
        }

        line = strings.TrimSpace(line)
        if line == "HANGUP" {
            session.markHangup()
            continue
        }
        return line, nil
    }
}

func (session *Session) sendResponse(response string) error {
    _, err := session.command(response)
    if err != nil && errors.Is(err, errors.ErrHangup) {
        return nil
    }
    return err
}

func (session *Session) setVariable(name, value string) {
    if _, err := session.command(fmt.Sprintf("SET VARIABLE %s \"%s\"", name, value)); err != nil {
        logger.WithField("variable", name).WithError(err).Debug("Failed to set AGI variable")
    }
}

func (session *Session) getVariable(name string) string {
    response, err := session.command(fmt.Sprintf("GET VARIABLE %s", name))
    if err != nil {
        return ""
    }

    // "200 result=1 (value)"
    if strings.Contains(response, "result=1") {
        start := strings.Index(response, "(")
        end := strings.LastIndex(response, ")")
        if start > 0 && end > start {
            return response[start+1 : end]
        }
    }
    return ""
}

func (session *Session) touch() {
    session.lastActMtx.Lock()
    session.lastAct = time.Now()
    session.lastActMtx.Unlock()
}

func (session *Session) lastActive() time.Time {
    session.lastActMtx.Lock()
    defer session.lastActMtx.Unlock()
    return session.lastAct
}

func (session *Session) markHangup() {
    session.hangupOnce.Do(func() { close(session.hangupCh) })
}

func (session *Session) hungUp() bool {
    select {
    case <-session.hangupCh:
        return true
    default:
        return false
    }
}

// --- router.Leg ---

func (session *Session) ID() string {
    return session.legID
}

// Dial bridges the caller onto the facility and blocks for the whole
// conversation. The dial status and cause come back as channel
// variables once the application returns.
func (session *Session) Dial(ctx context.Context, target string) (router.DialResult, error) {
    if session.hungUp() {
        return router.DialResult{}, errors.New(errors.ErrHangup, "caller gone before dial")
    }

    if _, err := session.command(fmt.Sprintf("EXEC Dial %s,,g", target)); err != nil {
        return router.DialResult{}, err
    }

    status := session.getVariable("DIALSTATUS")
    cause := 0
    if v := session.getVariable("HANGUPCAUSE"); v != "" {
        cause, _ = strconv.Atoi(v)
    }

    res := router.DialResult{Cause: cause}
    switch status {
    case "ANSWER":
        res.Status = router.DialConnected
    case "BUSY":
        res.Status = router.DialBusy
    case "CONGESTION", "CHANUNAVAIL":
        res.Status = router.DialCongestion
    default:
        res.Status = router.DialFailed
    }

    if session.hungUp() && res.Status != router.DialConnected {
        return res, errors.New(errors.ErrHangup, "caller hung up during dial")
    }
    return res, nil
}

func (session *Session) Play(ctx context.Context, prompt string) (router.PlayResult, error) {
    if session.hungUp() {
        return router.PlayHangup, nil
    }

    response, err := session.command(fmt.Sprintf("STREAM FILE %s \"\"", prompt))
    if err != nil {
        if errors.Is(err, errors.ErrHangup) {
            return router.PlayHangup, nil
        }
        return router.PlayHangup, err
    }

    // "200 result=<digit or 0 or -1>"
    if strings.Contains(response, "result=-1") || session.hungUp() {
        return router.PlayHangup, nil
    }
    if strings.Contains(response, "result=0") {
        return router.PlayCompleted, nil
    }
    return router.PlayInterrupted, nil
}

func (session *Session) PromptDigits(ctx context.Context, prompt string, maxLen int) (string, error) {
    if session.hungUp() {
        return "", errors.New(errors.ErrHangup, "caller gone before prompt")
    }

    timeoutMs := int(session.server.config.ReadTimeout / time.Millisecond / 2)
    response, err := session.command(fmt.Sprintf("GET DATA %s %d %d", prompt, timeoutMs, maxLen))
    if err != nil {
        return "", err
    }

    // "200 result=<digits> (timeout)" or "200 result=-1" on hangup
    if strings.Contains(response, "result=-1") {
        session.markHangup()
        return "", errors.New(errors.ErrHangup, "caller hung up during prompt")
    }

    idx := strings.Index(response, "result=")
    if idx < 0 {
        return "", errors.New(errors.ErrLegIO, "malformed GET DATA response")
    }
    digits := response[idx+len("result="):]
    if sp := strings.IndexByte(digits, ' '); sp >= 0 {
        digits = digits[:sp]
    }
    return digits, nil
}

// SoftDisconnect asks the switch to tear the channel down out-of-band.
// It must not write on the AGI socket itself: the session goroutine
// owns a command in flight. The AMI disconnector does the work; losing
// it degrades to dropping the socket.
func (session *Session) SoftDisconnect(cause string) {
    session.softMu.Lock()
    session.softRequested = true
    session.softCause = cause
    session.softMu.Unlock()

    channel := session.env["agi_channel"]
    if session.server.disconnector != nil && channel != "" {
        if err := session.server.disconnector.SoftHangup(channel, cause); err != nil {
            logger.WithField("channel", channel).WithError(err).Warn("Soft hangup via AMI failed, dropping socket")
            session.conn.Close()
        }
        return
    }

    session.conn.Close()
}

func (session *Session) ClearSoftDisconnect() {
    session.softMu.Lock()
    session.softRequested = false
    session.softCause = ""
    session.softMu.Unlock()
}

func (session *Session) Hangup() <-chan struct{} {
    return session.hangupCh
}
