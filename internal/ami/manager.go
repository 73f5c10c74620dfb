package ami

import (
    "bufio"
    "context"
    "fmt"
    "net"
    "strings"
    "sync"
    "sync/atomic"
    "time"

    "github.com/etncore/ars/pkg/errors"
    "github.com/etncore/ars/pkg/logger"
)

// Manager handles the switch's manager-interface connection. The
// router's call-back dispatcher and the preemption disconnect both run
// through it.
type Manager struct {
    config Config
    conn   net.Conn
    reader *bufio.Reader
    writer *bufio.Writer

    mu        sync.RWMutex
    connected bool
    loggedIn  bool

    // Event handling
    eventChan     chan Event
    eventHandlers map[string]map[uint64]EventHandler
    handlerSeq    uint64
    loginChan     chan Event // login responses carry no ActionID

    // Action handling
    actionID       uint64
    pendingActions map[string]chan Event
    actionMutex    sync.Mutex

    // Connection management
    shutdown      chan struct{}
    reconnectChan chan struct{}
    wg            sync.WaitGroup

    // Counters
    totalEvents   uint64
    totalActions  uint64
    failedActions uint64
}

type Config struct {
    Host              string
    Port              int
    Username          string
    Password          string
    ReconnectInterval time.Duration
    PingInterval      time.Duration
    ActionTimeout     time.Duration
    ConnectTimeout    time.Duration
    ReadTimeout       time.Duration
    BufferSize        int
}

// Event is one manager-interface message.
type Event map[string]string

type EventHandler func(event Event)

// Action is one manager-interface request.
type Action struct {
    Action   string
    ActionID string
    Fields   map[string]string
}

func NewManager(config Config) *Manager {
    if config.Port == 0 {
        config.Port = 5038
    }
    if config.ReconnectInterval == 0 {
        config.ReconnectInterval = 5 * time.Second
    }
    if config.PingInterval == 0 {
        config.PingInterval = 30 * time.Second
    }
    if config.ActionTimeout == 0 {
        config.ActionTimeout = 30 * time.Second
    }
    if config.ConnectTimeout == 0 {
        config.ConnectTimeout = 10 * time.Second
    }
    if config.ReadTimeout == 0 {
        config.ReadTimeout = 30 * time.Second
    }
    if config.BufferSize == 0 {
        config.BufferSize = 1000
    }

    return &Manager{
        config:         config,
        eventChan:      make(chan Event, config.BufferSize),
        eventHandlers:  make(map[string]map[uint64]EventHandler),
        pendingActions: make(map[string]chan Event),
        loginChan:      make(chan Event, 10),
        shutdown:       make(chan struct{}),
        reconnectChan:  make(chan struct{}, 1),
    }
}

func (m *Manager) Connect(ctx context.Context) error {
    m.mu.Lock()
    defer m.mu.Unlock()

    if m.connected {
        return nil
    }

    addr := fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)
    logger.WithField("addr", addr).Info("Connecting to switch manager interface")

    dialer := net.Dialer{
        Timeout: m.config.ConnectTimeout,
    }

    conn, err := dialer.DialContext(ctx, "tcp", addr)
    if err != nil {
        return errors.Wrap(err, errors.ErrAMIConnection, "failed to connect to AMI")
    }

    m.conn = conn
    m.reader = bufio.NewReader(conn)
    m.writer = bufio.NewWriter(conn)

    conn.SetReadDeadline(time.Now().Add(5 * time.Second))

    banner, err := m.reader.ReadString('\n')
    if err != nil {
        conn.Close()
        return errors.Wrap(err, errors.ErrAMIConnection, "failed to read AMI banner")
    }

    conn.SetReadDeadline(time.Time{})

    banner = strings.TrimSpace(banner)
    if !strings.Contains(banner, "Asterisk Call Manager") {
        conn.Close()
        return errors.New(errors.ErrAMIConnection, fmt.Sprintf("invalid AMI banner: %s", banner))
    }

    m.connected = true

    m.wg.Add(1)
    go m.eventReader()

    if err := m.performLogin(); err != nil {
        m.connected = false
        m.conn.Close()
        return err
    }

    m.loggedIn = true

    m.wg.Add(2)
    go m.pingLoop()
    go m.reconnectHandler()

    logger.Info("Switch manager interface connected")
    return nil
}

func (m *Manager) performLogin() error {
    loginAction := fmt.Sprintf("Action: Login\r\nUsername: %s\r\nSecret: %s\r\n\r\n",
        m.config.Username, m.config.Password)

    if _, err := m.writer.WriteString(loginAction); err != nil {
        return errors.Wrap(err, errors.ErrAMIConnection, "failed to send login")
    }
    if err := m.writer.Flush(); err != nil {
        return errors.Wrap(err, errors.ErrAMIConnection, "failed to flush login")
    }

    timeout := time.NewTimer(m.config.ActionTimeout)
    defer timeout.Stop()

    for {
        select {
        case event := <-m.loginChan:
            switch event["Response"] {
            case "Success":
                return nil
            case "Error":
                msg := event["Message"]
                if msg == "" {
                    msg = "authentication failed"
                }
                return errors.New(errors.ErrAMIConnection, msg)
            }
        case <-timeout.C:
            return errors.New(errors.ErrLegTimeout, "login timeout")
        }
    }
}

func (m *Manager) Close() {
    m.mu.Lock()
    if !m.connected {
        m.mu.Unlock()
        return
    }

    m.connected = false
    m.loggedIn = false

    close(m.shutdown)

    if m.conn != nil {
        m.conn.Close()
    }
    m.mu.Unlock()

    done := make(chan struct{})
    go func() {
        m.wg.Wait()
        close(done)
    }()

    select {
    case <-done:
        logger.Info("AMI manager closed gracefully")
    case <-time.After(5 * time.Second):
        logger.Warn("AMI manager close timeout")
    }
}

// SendAction sends one action and waits for its response event.
func (m *Manager) SendAction(action Action) (Event, error) {
    m.mu.RLock()
    if !m.connected {
        m.mu.RUnlock()
        return nil, errors.New(errors.ErrAMIConnection, "not connected to AMI")
    }
    if action.Action != "Login" && !m.loggedIn {
        m.mu.RUnlock()
        return nil, errors.New(errors.ErrAMIConnection, "not logged in to AMI")
    }
    m.mu.RUnlock()

    actionID := fmt.Sprintf("%d", atomic.AddUint64(&m.actionID, 1))
    action.ActionID = actionID

    responseChan := make(chan Event, 1)

    m.actionMutex.Lock()
    m.pendingActions[actionID] = responseChan
    m.actionMutex.Unlock()

    defer func() {
        m.actionMutex.Lock()
        delete(m.pendingActions, actionID)
        m.actionMutex.Unlock()
    }()

    var sb strings.Builder
    sb.WriteString(fmt.Sprintf("Action: %s\r\n", action.Action))
    sb.WriteString(fmt.Sprintf("ActionID: %s\r\n", actionID))
    for key, value := range action.Fields {
        sb.WriteString(fmt.Sprintf("%s: %s\r\n", key, value))
    }
    sb.WriteString("\r\n")

    m.mu.Lock()
    _, err := m.writer.WriteString(sb.String())
    if err != nil {
        m.mu.Unlock()
        return nil, errors.Wrap(err, errors.ErrAMIConnection, "failed to write AMI action")
    }
    err = m.writer.Flush()
    m.mu.Unlock()

    if err != nil {
        return nil, errors.Wrap(err, errors.ErrAMIConnection, "failed to flush AMI action")
    }

    atomic.AddUint64(&m.totalActions, 1)

    timer := time.NewTimer(m.config.ActionTimeout)
    defer timer.Stop()

    select {
    case response := <-responseChan:
        return response, nil
    case <-timer.C:
        atomic.AddUint64(&m.failedActions, 1)
        return nil, errors.New(errors.ErrLegTimeout, "AMI action timeout")
    case <-m.shutdown:
        return nil, errors.New(errors.ErrAMIConnection, "AMI manager shutting down")
    }
}

func (m *Manager) eventReader() {
    defer m.wg.Done()

    for {
        select {
        case <-m.shutdown:
            return
        default:
            event, err := m.readEvent()
            if err != nil {
                if !strings.Contains(err.Error(), "use of closed network connection") {
                    logger.WithError(err).Error("Failed to read AMI event")
                }

                select {
                case m.reconnectChan <- struct{}{}:
                default:
                }
                return
            }

            if event == nil {
                continue
            }
            atomic.AddUint64(&m.totalEvents, 1)

            // Login responses carry no ActionID.
            if _, hasResponse := event["Response"]; hasResponse {
                if _, hasActionID := event["ActionID"]; !hasActionID {
                    select {
                    case m.loginChan <- event:
                    default:
                    }
                    continue
                }
            }

            if actionID, ok := event["ActionID"]; ok && actionID != "" {
                m.actionMutex.Lock()
                if ch, exists := m.pendingActions[actionID]; exists {
                    select {
                    case ch <- event:
                    default:
                    }
                }
                m.actionMutex.Unlock()
            }

            select {
            case m.eventChan <- event:
            case <-time.After(100 * time.Millisecond):
                logger.Warn("AMI event channel full, dropping event")
            }

            if eventType, ok := event["Event"]; ok {
                m.handleEvent(eventType, event)
            }
        }
    }
}

func (m *Manager) readEvent() (Event, error) {
    event := make(Event)

    for {
        if m.config.ReadTimeout > 0 {
            m.conn.SetReadDeadline(time.Now().Add(m.config.ReadTimeout))
        }

        line, err := m.reader.ReadString('\n')
        if err != nil {
            return nil, err
        }

        line = strings.TrimSpace(line)

        // Empty line = end of event
        if line == "" {
            if len(event) > 0 {
                return event, nil
            }
            continue
        }

        if idx := strings.Index(line, ":"); idx > 0 {
            event[strings.TrimSpace(line[:idx])] = strings.TrimSpace(line[idx+1:])
        }
    }
}

func (m *Manager) handleEvent(eventType string, event Event) {
    m.mu.RLock()
    handlers := make([]EventHandler, 0, len(m.eventHandlers[eventType]))
    for _, h := range m.eventHandlers[eventType] {
        handlers = append(handlers, h)
    }
    m.mu.RUnlock()

    for _, handler := range handlers {
        go func(h EventHandler) {
            defer func() {
                if r := recover(); r != nil {
                    logger.WithField("event", eventType).WithField("panic", r).Error("Event handler panic")
                }
            }()
            h(event)
        }(handler)
    }
}

func (m *Manager) pingLoop() {
    defer m.wg.Done()

    ticker := time.NewTicker(m.config.PingInterval)
    defer ticker.Stop()

    for {
        select {
        case <-m.shutdown:
            return
        case <-ticker.C:
            if _, err := m.SendAction(Action{Action: "Ping"}); err != nil {
                logger.WithError(err).Warn("AMI ping failed")
            }
        }
    }
}

func (m *Manager) reconnectHandler() {
    defer m.wg.Done()

    for {
        select {
        case <-m.shutdown:
            return
        case <-m.reconnectChan:
            logger.Info("AMI reconnection triggered")

            m.mu.Lock()
            m.connected = false
            m.loggedIn = false
            if m.conn != nil {
                m.conn.Close()
            }
            m.mu.Unlock()

            time.Sleep(m.config.ReconnectInterval)

            select {
            case <-m.shutdown:
                return
            default:
                if err := m.Connect(context.Background()); err != nil {
                    logger.WithError(err).Error("AMI reconnection failed")
                    select {
                    case m.reconnectChan <- struct{}{}:
                    default:
                    }
                }
            }
        }
    }
}

func (m *Manager) IsConnected() bool {
    m.mu.RLock()
    defer m.mu.RUnlock()
    return m.connected
}

func (m *Manager) IsLoggedIn() bool {
    m.mu.RLock()
    defer m.mu.RUnlock()
    return m.loggedIn
}

// RegisterEventHandler subscribes to an event type. The returned
// function removes the subscription; short-lived subscribers must call
// it, or the handler keeps firing on every matching event.
func (m *Manager) RegisterEventHandler(eventType string, handler EventHandler) func() {
    id := atomic.AddUint64(&m.handlerSeq, 1)

    m.mu.Lock()
    if m.eventHandlers[eventType] == nil {
        m.eventHandlers[eventType] = make(map[uint64]EventHandler)
    }
    m.eventHandlers[eventType][id] = handler
    m.mu.Unlock()

    return func() {
        m.mu.Lock()
        delete(m.eventHandlers[eventType], id)
        m.mu.Unlock()
    }
}

// ConnectOptional keeps trying in the background; the engine routes
// without AMI, it just loses call-back dispatch and remote preemption.
func (m *Manager) ConnectOptional(ctx context.Context) {
    go func() {
        for {
            select {
            case <-ctx.Done():
                return
            default:
                if !m.IsConnected() {
                    if err := m.Connect(ctx); err != nil {
                        logger.WithError(err).Debug("AMI connection failed, will retry")
                        time.Sleep(m.config.ReconnectInterval)
                        continue
                    }
                }
                time.Sleep(30 * time.Second)
            }
        }
    }()
}

// Stats returns counters for the admin surface.
func (m *Manager) Stats() map[string]interface{} {
    return map[string]interface{}{
        "total_events":   atomic.LoadUint64(&m.totalEvents),
        "total_actions":  atomic.LoadUint64(&m.totalActions),
        "failed_actions": atomic.LoadUint64(&m.failedActions),
        "connected":      m.IsConnected(),
        "logged_in":      m.IsLoggedIn(),
    }
}
