package signal

import "github.com/dkeye/Voice/internal/domain"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, domain.Message{Type: domain.MsgPong})
}

func (ctl *SignalWSController) sendError(conn *WsSignalConn, code string) {
	ctl.sendJSON(conn, domain.Message{Type: domain.MsgError, Error: code})
}
