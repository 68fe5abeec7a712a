package main

import (
	"context"
	"fmt"
	"net"
	"sync"

	gosip "github.com/ghettovoice/gosip"
	gosiplog "github.com/ghettovoice/gosip/log"
	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/sip/parser"
	"github.com/ghettovoice/gosip/util"
	"github.com/sirupsen/logrus"
)

// Response codes used by the request handlers.
const (
	statusTrying   sip.StatusCode = 100
	statusRinging  sip.StatusCode = 180
	statusOK       sip.StatusCode = 200
	statusBusyHere sip.StatusCode = 486
)

// SIPSignalingClient is the gosip-backed implementation of the signaling
// client contract. One instance per connect attempt; the session manager
// discards and replaces it on reconnection.
type SIPSignalingClient struct {
	cfg      SignalingConfig
	settings *Settings
	log      *logrus.Entry

	srv    gosip.Server
	events chan SignalingEvent

	mu          sync.Mutex
	calls       map[string]*sipCall
	pushPayload *PushPayload
	pushEnabled bool
	closed      bool
}

func NewSIPSignalingClient(cfg SignalingConfig, settings *Settings, log *logrus.Entry) *SIPSignalingClient {
	return &SIPSignalingClient{
		cfg:      cfg,
		settings: settings,
		log:      log,
		events:   make(chan SignalingEvent, 32),
		calls:    map[string]*sipCall{},
	}
}

func (c *SIPSignalingClient) Events() <-chan SignalingEvent { return c.events }

func (c *SIPSignalingClient) emit(ev SignalingEvent) {
	select {
	case c.events <- ev:
	default:
		c.log.Warnf("dropping signaling event %d: queue full", ev.Kind)
	}
}

// ApplyPushPayload stores push-derived call metadata. An invite whose Call-ID
// matches the payload is marked push-originated.
func (c *SIPSignalingClient) ApplyPushPayload(p PushPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushPayload = &p
}

// detectHostIP picks the first routable IPv4 address to advertise as the SIP
// contact host when no public_address is configured.
func detectHostIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("no routable IPv4 address on any interface")
}

// Connect brings up the SIP listener and registers the request handlers.
func (c *SIPSignalingClient) Connect(ctx context.Context) error {
	host := c.settings.PublicAddress()
	if host == "" {
		if detected, err := detectHostIP(); err == nil {
			host = detected
		}
	}

	logger := gosiplog.NewLogrusLogger(c.log, "SIP", nil)
	c.srv = gosip.NewServer(gosip.ServerConfig{Host: host, UserAgent: c.settings.UserAgent()}, nil, nil, logger)

	if err := c.srv.OnRequest(sip.INVITE, c.handleInvite); err != nil {
		return err
	}
	if err := c.srv.OnRequest(sip.ACK, c.handleAck); err != nil {
		return err
	}
	if err := c.srv.OnRequest(sip.BYE, c.handleBye); err != nil {
		return err
	}
	if err := c.srv.OnRequest(sip.INFO, c.handleInfo); err != nil {
		return err
	}

	port := c.settings.SIPPort()
	portRange := c.settings.SIPPortRange()
	var listenErr error
	for i := 0; i <= portRange; i++ {
		addr := fmt.Sprintf(":%d", port+i)
		listenErr = c.srv.Listen("udp", addr)
		if listenErr == nil {
			c.log.Infof("SIP listening on %s/udp", addr)
			c.emit(SignalingEvent{Kind: EventReady})
			return nil
		}
		c.log.Warnf("failed to listen on %s: %v", addr, listenErr)
	}
	err := fmt.Errorf("sip listen: %w", listenErr)
	c.emit(SignalingEvent{Kind: EventClientError, Err: err})
	return err
}

// Disconnect shuts the listener down and forgets all dialogs.
func (c *SIPSignalingClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.calls = map[string]*sipCall{}
	c.mu.Unlock()

	if c.srv != nil {
		c.srv.Shutdown()
	}
	return nil
}

// EnablePush records the device token the remote side should wake us with.
// The token travels in the registration contact on the next register cycle.
func (c *SIPSignalingClient) EnablePush(ctx context.Context, deviceToken string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.DeviceToken = deviceToken
	c.pushEnabled = true
	c.log.Infof("push notifications enabled")
	return nil
}

func (c *SIPSignalingClient) DisablePush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushEnabled = false
	c.log.Infof("push notifications disabled")
	return nil
}

// handleInvite tracks the dialog and surfaces the call. An INVITE carrying a
// Replaces header re-associates an in-progress call with this process.
func (c *SIPSignalingClient) handleInvite(req sip.Request, tx sip.ServerTransaction) {
	cid, _ := req.CallID()
	callID := ""
	if cid != nil {
		callID = cid.String()
	}
	if sipMessages {
		c.log.Infof("received SIP message: %s", req.Short())
	}

	fromHdr, _ := req.From()
	toHdr, _ := req.To()

	sess := &sipCall{
		client:     c,
		callID:     callID,
		localAddr:  sip.NewAddressFromToHeader(toHdr),
		remoteAddr: sip.NewAddressFromFromHeader(fromHdr),
		contact:    sip.NewAddressFromToHeader(toHdr),
		cseq:       1,
		serverTx:   tx,
		inviteReq:  req,
		incoming:   true,
	}
	if fromHdr != nil && fromHdr.Params != nil {
		if tag, ok := fromHdr.Params.Get("tag"); ok {
			sess.remoteAddr.Params = sess.remoteAddr.Params.Add("tag", tag)
		}
	}
	sess.callerName, sess.callerNumber = callerIdentityFromInvite(fromHdr)

	invite := &InviteInfo{
		CallID:       callID,
		CallerName:   sess.callerName,
		CallerNumber: sess.callerNumber,
	}
	c.mu.Lock()
	if c.pushPayload != nil && c.pushPayload.CallID == callID {
		invite.PushOriginated = true
		sess.pushOriginated = true
		if invite.CallerName == "" {
			invite.CallerName = c.pushPayload.CallerName
		}
		if invite.CallerNumber == "" {
			invite.CallerNumber = c.pushPayload.CallerNumber
		}
	}
	c.calls[callID] = sess
	c.mu.Unlock()

	reattached := len(req.GetHeaders("Replaces")) > 0

	if tx != nil {
		c.srv.RespondOnRequest(req, statusTrying, "Trying", "", nil)
	}

	if reattached {
		c.emit(SignalingEvent{Kind: EventReattachedCall, Call: sess, Invite: invite})
		return
	}
	c.emit(SignalingEvent{Kind: EventIncomingCall, Call: sess, Invite: invite})
}

// handleAck confirms an answered dialog.
func (c *SIPSignalingClient) handleAck(req sip.Request, tx sip.ServerTransaction) {
	cid, _ := req.CallID()
	if cid == nil {
		return
	}
	c.emit(SignalingEvent{Kind: EventCallState, CallID: cid.String(), State: "confirmed"})
}

// handleBye tears the dialog down and surfaces the terminal state.
func (c *SIPSignalingClient) handleBye(req sip.Request, tx sip.ServerTransaction) {
	cid, _ := req.CallID()
	if cid == nil {
		return
	}
	callID := cid.String()

	c.mu.Lock()
	delete(c.calls, callID)
	c.mu.Unlock()

	c.emit(SignalingEvent{Kind: EventCallState, CallID: callID, State: "disconnected"})
	if tx != nil {
		c.srv.RespondOnRequest(req, statusOK, "OK", "", nil)
	}
}

// handleInfo absorbs mid-dialog INFO (incoming DTMF and the like).
func (c *SIPSignalingClient) handleInfo(req sip.Request, tx sip.ServerTransaction) {
	cid, _ := req.CallID()
	if cid != nil {
		c.log.Debugf("received SIP INFO for %s", cid.String())
	}
	if tx != nil {
		c.srv.RespondOnRequest(req, statusOK, "OK", "", nil)
	}
}

// NewCall originates an outgoing INVITE and pumps its transaction into call
// state events.
func (c *SIPSignalingClient) NewCall(ctx context.Context, opts CallOptions) (SignalingCall, error) {
	toURI, err := parser.ParseUri(sipURI(opts.Destination, c.settings.Domain()))
	if err != nil {
		return nil, fmt.Errorf("parse destination: %w", err)
	}

	caller := opts.CallerNumber
	if caller == "" {
		caller = c.cfg.Username
	}
	fromURI, err := parser.ParseUri(fmt.Sprintf("sip:%s@%s", caller, c.settings.Domain()))
	if err != nil {
		return nil, fmt.Errorf("parse caller uri: %w", err)
	}

	tag := util.RandString(8)
	fromAddr := &sip.Address{Uri: fromURI, Params: sip.NewParams().Add("tag", sip.String{Str: tag})}
	toAddr := &sip.Address{Uri: toURI}
	contactAddr := &sip.Address{Uri: fromURI.Clone()}

	rb := sip.NewRequestBuilder().
		SetMethod(sip.INVITE).
		SetRecipient(toURI).
		SetFrom(fromAddr).
		SetTo(toAddr).
		SetContact(contactAddr)

	for k, v := range opts.Headers {
		rb.AddHeader(&sip.GenericHeader{HeaderName: k, Contents: v})
	}

	req, err := rb.Build()
	if err != nil {
		return nil, fmt.Errorf("build invite: %w", err)
	}

	cid, _ := req.CallID()
	callID := ""
	if cid != nil {
		callID = cid.String()
	}

	tx, err := c.srv.Request(req)
	if err != nil {
		return nil, fmt.Errorf("send invite: %w", err)
	}

	sess := &sipCall{
		client:       c,
		callID:       callID,
		localAddr:    fromAddr,
		remoteAddr:   toAddr,
		contact:      contactAddr,
		cseq:         1,
		clientTx:     tx,
		callerNumber: caller,
	}
	c.mu.Lock()
	c.calls[callID] = sess
	c.mu.Unlock()

	go c.pumpInviteTransaction(ctx, callID, tx)
	return sess, nil
}

// pumpInviteTransaction translates outgoing INVITE responses into call state
// events.
func (c *SIPSignalingClient) pumpInviteTransaction(ctx context.Context, callID string, tx sip.ClientTransaction) {
	for {
		select {
		case <-ctx.Done():
			_ = tx.Cancel()
			return
		case res := <-tx.Responses():
			if res == nil {
				continue
			}
			if sipMessages {
				c.log.Infof("received SIP message: %d %s", res.StatusCode(), res.Reason())
			}
			if toHdr, ok := res.To(); ok {
				if tag, ok := toHdr.Params.Get("tag"); ok {
					c.mu.Lock()
					if sess, ok := c.calls[callID]; ok {
						sess.remoteAddr.Params = sess.remoteAddr.Params.Add("tag", tag)
					}
					c.mu.Unlock()
				}
			}
			switch {
			case res.IsProvisional():
				if res.StatusCode() >= statusRinging {
					c.emit(SignalingEvent{Kind: EventCallState, CallID: callID, State: "ringing"})
				}
			case res.StatusCode() >= statusOK && res.StatusCode() < 300:
				c.markAnswered(callID)
				c.emit(SignalingEvent{Kind: EventCallState, CallID: callID, State: "confirmed"})
				return
			default:
				c.emit(SignalingEvent{Kind: EventCallState, CallID: callID, State: "failed"})
				return
			}
		case err := <-tx.Errors():
			if err != nil {
				c.log.Warnf("SIP transaction error: %v", err)
				c.emit(SignalingEvent{Kind: EventCallState, CallID: callID, State: "failed"})
			}
			return
		case <-tx.Done():
			return
		}
	}
}

func (c *SIPSignalingClient) markAnswered(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess, ok := c.calls[callID]; ok {
		sess.answered = true
	}
}

func (c *SIPSignalingClient) forget(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.calls, callID)
}

// sipCall is one SIP dialog implementing the signaling call handle.
type sipCall struct {
	client *SIPSignalingClient

	callID     string
	localAddr  *sip.Address
	remoteAddr *sip.Address
	contact    *sip.Address
	cseq       uint
	clientTx   sip.ClientTransaction
	serverTx   sip.ServerTransaction
	inviteReq  sip.Request

	incoming       bool
	answered       bool
	muted          bool
	pushOriginated bool
	callerName     string
	callerNumber   string
}

func (s *sipCall) ID() string           { return s.callID }
func (s *sipCall) CallerName() string   { return s.callerName }
func (s *sipCall) CallerNumber() string { return s.callerNumber }
func (s *sipCall) PushOriginated() bool { return s.pushOriginated }

// Answer sends the 200 OK for an incoming INVITE.
func (s *sipCall) Answer(ctx context.Context, headers map[string]string) error {
	if !s.incoming || s.serverTx == nil || s.inviteReq == nil {
		return fmt.Errorf("call %s cannot be answered here", s.callID)
	}

	res := sip.NewResponseFromRequest("", s.inviteReq, statusOK, "OK", "")
	tag := util.RandString(8)
	if toHdr, ok := res.To(); ok {
		toHdr.Params = toHdr.Params.Add("tag", sip.String{Str: tag})
		s.localAddr.Params = s.localAddr.Params.Add("tag", sip.String{Str: tag})
	}
	for k, v := range headers {
		res.AppendHeader(&sip.GenericHeader{HeaderName: k, Contents: v})
	}
	if _, err := s.client.srv.Respond(res); err != nil {
		return fmt.Errorf("send 200 OK: %w", err)
	}
	s.answered = true
	return nil
}

// Hangup terminates the dialog: a decline response while still unanswered,
// a BYE afterwards.
func (s *sipCall) Hangup(ctx context.Context, headers map[string]string) error {
	defer s.client.forget(s.callID)

	if s.incoming && !s.answered {
		if s.inviteReq == nil {
			return fmt.Errorf("call %s not found", s.callID)
		}
		res := sip.NewResponseFromRequest("", s.inviteReq, statusBusyHere, "Busy Here", "")
		if _, err := s.client.srv.Respond(res); err != nil {
			return fmt.Errorf("send decline: %w", err)
		}
		return nil
	}

	s.cseq++
	cid := sip.CallID(s.callID)
	rb := sip.NewRequestBuilder().
		SetMethod(sip.BYE).
		SetRecipient(s.remoteAddr.Uri).
		SetFrom(s.localAddr).
		SetTo(s.remoteAddr).
		SetContact(s.localAddr).
		SetCallID(&cid).
		SetSeqNo(s.cseq)

	for k, v := range headers {
		rb.AddHeader(&sip.GenericHeader{HeaderName: k, Contents: v})
	}

	req, err := rb.Build()
	if err != nil {
		return fmt.Errorf("build BYE: %w", err)
	}
	if _, err := s.client.srv.Request(req); err != nil {
		return fmt.Errorf("send BYE: %w", err)
	}
	return nil
}

// Hold sends a re-INVITE with a sendonly session description.
func (s *sipCall) Hold(ctx context.Context) error {
	return s.reinvite("sendonly")
}

// Unhold restores the bidirectional session.
func (s *sipCall) Unhold(ctx context.Context) error {
	return s.reinvite("sendrecv")
}

func (s *sipCall) reinvite(direction string) error {
	s.cseq++
	host := s.client.settings.PublicAddress()
	if host == "" {
		host = "0.0.0.0"
	}
	body := fmt.Sprintf("v=0\r\no=- 0 0 IN IP4 %s\r\ns=callbridge\r\nc=IN IP4 %s\r\nt=0 0\r\nm=audio 0 RTP/AVP 0\r\na=%s\r\n", host, host, direction)

	cid := sip.CallID(s.callID)
	ctype := sip.ContentType("application/sdp")
	rb := sip.NewRequestBuilder().
		SetMethod(sip.INVITE).
		SetRecipient(s.remoteAddr.Uri).
		SetFrom(s.localAddr).
		SetTo(s.remoteAddr).
		SetContact(s.localAddr).
		SetCallID(&cid).
		SetSeqNo(s.cseq).
		SetContentType(&ctype).
		SetBody(body)

	req, err := rb.Build()
	if err != nil {
		return fmt.Errorf("build re-INVITE: %w", err)
	}
	if _, err := s.client.srv.Request(req); err != nil {
		return fmt.Errorf("send re-INVITE: %w", err)
	}
	return nil
}

// Mute and Unmute affect only the local capture path, which lives outside
// the signaling dialog; the flag is tracked for the coordinator's benefit.
func (s *sipCall) Mute(ctx context.Context) error {
	s.muted = true
	return nil
}

func (s *sipCall) Unmute(ctx context.Context) error {
	s.muted = false
	return nil
}

// SendDTMF relays digits in an INFO request.
func (s *sipCall) SendDTMF(ctx context.Context, digits string) error {
	s.cseq++
	body := fmt.Sprintf("Signal=%s\r\nDuration=250\r\n", digits)
	cid := sip.CallID(s.callID)
	ctype := sip.ContentType("application/dtmf-relay")
	rb := sip.NewRequestBuilder().
		SetMethod(sip.INFO).
		SetRecipient(s.remoteAddr.Uri).
		SetFrom(s.localAddr).
		SetTo(s.remoteAddr).
		SetContact(s.localAddr).
		SetCallID(&cid).
		SetSeqNo(s.cseq).
		SetContentType(&ctype).
		SetBody(body)

	req, err := rb.Build()
	if err != nil {
		return fmt.Errorf("build INFO: %w", err)
	}
	if _, err := s.client.srv.Request(req); err != nil {
		return fmt.Errorf("send INFO: %w", err)
	}
	return nil
}

// callerIdentityFromInvite extracts display name and user from the From
// header.
func callerIdentityFromInvite(from *sip.FromHeader) (name, number string) {
	if from == nil {
		return "", ""
	}
	if from.DisplayName != nil {
		name = from.DisplayName.String()
	}
	if from.Address != nil {
		if u := from.Address.User(); u != nil {
			number = u.String()
		}
	}
	return name, number
}

// sipURI normalizes a dial destination into a SIP URI.
func sipURI(destination, domain string) string {
	if len(destination) > 4 && destination[:4] == "sip:" {
		return destination
	}
	return fmt.Sprintf("sip:%s@%s", destination, domain)
}
