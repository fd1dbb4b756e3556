package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"mimir/internal/common"
	"mimir/internal/utils"
)

const (
	maxRecvSize        = 4 * 1024
	defaultNWorkers    = 10
	defaultConnTimeout = 5 * time.Minute
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
)

// ClientSession contains relevant information pertaining to an individual
// connected TCP session.
type ClientSession struct {
	id   string
	conn net.Conn
}

// ClientMessage links a message to the client sending it.
type ClientMessage struct {
	clientAddress string
	message       Message
}

// Engine is the order-handling surface the server drives. The book
// implements it.
type Engine interface {
	AddOrder(order *common.Order) common.Trades
	CancelOrder(id common.OrderID)
	ModifyOrder(mod common.Modify) common.Trades
	Size() int
	GetOrderInfos() common.Depth
}

type Server struct {
	address            string
	port               int
	engine             Engine
	pool               utils.WorkerPool
	cancel             context.CancelFunc
	clientSessions     map[string]ClientSession
	clientSessionsLock sync.Mutex
	owners             map[common.OrderID]string
	ownersLock         sync.Mutex
	clientMessages     chan ClientMessage
}

func New(address string, port int, engine Engine) *Server {
	return &Server{
		address:        address,
		port:           port,
		engine:         engine,
		pool:           utils.NewWorkerPool(defaultNWorkers),
		clientSessions: make(map[string]ClientSession),
		owners:         make(map[common.OrderID]string),
		clientMessages: make(chan ClientMessage, 1),
	}
}

// WithWorkers overrides the connection pool size.
func (s *Server) WithWorkers(n int) *Server {
	if n > 0 {
		s.pool = utils.NewWorkerPool(n)
	}
	return s
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	s.cancel()
}

func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()

	// Setup a cancel on the context for future shutdown.
	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
	}()

	// Start the worker pool.
	s.pool.Setup(t, s.handleConnection)

	// Start the session handler.
	t.Go(func() error {
		return s.sessionHandler(t)
	})

	log.Info().Str("address", s.address).Int("port", s.port).Msg("server running")

	// Start accepting connections.
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				log.Error().Err(err).Msg("error accepting client")
				continue
			}

			// Add the client to client sessions we are tracking.
			// We expect to potentially maintain a long TCP session.
			s.addClientSession(conn)

			// Pass over the connection to be read from.
			s.pool.AddTask(conn)
		}
	}
}

// reportTrades pushes an execution report to each party of every trade. A
// party whose session is gone is skipped; the match already happened.
func (s *Server) reportTrades(trades common.Trades) {
	for _, trade := range trades {
		bidReport, askReport := generateWireTradeReports(trade)
		if err := s.send(s.ownerOf(trade.Bid.OrderID), bidReport); err != nil {
			log.Warn().Err(err).Uint64("orderID", uint64(trade.Bid.OrderID)).
				Msg("unable to report execution to bidder")
		}
		if err := s.send(s.ownerOf(trade.Ask.OrderID), askReport); err != nil {
			log.Warn().Err(err).Uint64("orderID", uint64(trade.Ask.OrderID)).
				Msg("unable to report execution to seller")
		}
	}
}

func (s *Server) ReportError(clientAddress string, err error) error {
	return s.send(clientAddress, generateWireErrorReport(err))
}

func (s *Server) send(clientAddress string, report []byte) error {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	client, ok := s.clientSessions[clientAddress]
	if !ok {
		return ErrClientDoesNotExist
	}

	if _, err := client.conn.Write(report); err != nil {
		delete(s.clientSessions, clientAddress)
		return fmt.Errorf("unable to send report: %w", err)
	}
	return nil
}

// sessionHandler reads off incoming messages from clients and handles
// high-level session logic. Messages are received from the pool of workers.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case message := <-s.clientMessages:
			if err := s.handleMessage(message); err != nil {
				log.Error().
					Err(err).
					Str("clientAddress", message.clientAddress).
					Msg("error handling message")
				s.ReportError(message.clientAddress, err)
			}
		}
	}
}

func (s *Server) handleMessage(message ClientMessage) error {
	switch message.message.GetType() {
	case SubmitOrder:
		submit, ok := message.message.(*SubmitOrderMessage)
		if !ok {
			return ErrInvalidMessageType
		}
		s.setOwner(submit.OrderID, message.clientAddress)
		trades := s.engine.AddOrder(submit.Order())
		s.reportTrades(trades)
	case CancelOrder:
		cancel, ok := message.message.(*CancelOrderMessage)
		if !ok {
			return ErrInvalidMessageType
		}
		s.engine.CancelOrder(cancel.OrderID)
		s.clearOwner(cancel.OrderID)
	case ModifyOrder:
		modify, ok := message.message.(*ModifyOrderMessage)
		if !ok {
			return ErrInvalidMessageType
		}
		s.setOwner(modify.OrderID, message.clientAddress)
		trades := s.engine.ModifyOrder(modify.Modify())
		s.reportTrades(trades)
	case LogBook:
		s.logBook()
	default:
		log.Error().
			Int("messageType", int(message.message.GetType())).
			Msg("invalid message type")
		return ErrInvalidMessageType
	}
	return nil
}

func (s *Server) logBook() {
	depth := s.engine.GetOrderInfos()
	log.Info().
		Int("restingOrders", s.engine.Size()).
		Int("bidLevels", len(depth.Bids)).
		Int("askLevels", len(depth.Asks)).
		Interface("bids", depth.Bids).
		Interface("asks", depth.Asks).
		Msg("book state")
}

// handleConnection is a short-lived worker method which reads the next
// message off the connection, parses and passes it forward to
// sessionHandler to handle it. If the connection dies, the client session
// is cleaned up and the connection closed; otherwise the connection is
// queued back for its next message.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}

	if err := conn.SetReadDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		log.Error().
			Str("address", conn.RemoteAddr().String()).
			Err(err).
			Msg("failed setting deadline for connection")
		s.dropClientSession(conn)
		return nil
	}

	buffer := make([]byte, maxRecvSize)
	select {
	case <-t.Dying():
		return nil
	default:
		n, err := conn.Read(buffer)
		if err != nil {
			// If a read from a client fails, it is likely that the client
			// has exited. Clean up the client session.
			log.Info().
				Err(err).
				Str("address", conn.RemoteAddr().String()).
				Msg("client disconnected")
			s.dropClientSession(conn)
			return nil
		}

		message, err := parseMessage(buffer[:n])
		if err != nil {
			log.Error().
				Err(err).
				Str("address", conn.RemoteAddr().String()).
				Msg("error parsing message")
			s.ReportError(conn.RemoteAddr().String(), err)
		} else {
			// Pass over to the message handling buffer and exit this worker.
			s.clientMessages <- ClientMessage{
				message:       message,
				clientAddress: conn.RemoteAddr().String(),
			}
		}

		// Push the client connection back to handle the next message.
		s.pool.AddTask(conn)
	}
	return nil
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(conn net.Conn) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	session := ClientSession{
		id:   uuid.New().String(),
		conn: conn,
	}
	s.clientSessions[conn.RemoteAddr().String()] = session
	log.Info().
		Str("address", conn.RemoteAddr().String()).
		Str("session", session.id).
		Msg("new client added")
}

// dropClientSession removes the session and closes its connection.
func (s *Server) dropClientSession(conn net.Conn) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	delete(s.clientSessions, conn.RemoteAddr().String())
	if err := conn.Close(); err != nil {
		log.Error().Str("address", conn.RemoteAddr().String()).Err(err).
			Msg("unable to close connection")
	}
}

func (s *Server) setOwner(id common.OrderID, clientAddress string) {
	s.ownersLock.Lock()
	defer s.ownersLock.Unlock()
	s.owners[id] = clientAddress
}

func (s *Server) clearOwner(id common.OrderID) {
	s.ownersLock.Lock()
	defer s.ownersLock.Unlock()
	delete(s.owners, id)
}

func (s *Server) ownerOf(id common.OrderID) string {
	s.ownersLock.Lock()
	defer s.ownersLock.Unlock()
	return s.owners[id]
}
