package gateway

import (
	"net/http"
	"strconv"

	"chatgate/internal/domain"
	"chatgate/internal/registry"
	"chatgate/internal/session"
)

// --- session lifecycle ---

func (s *Server) handleListSessions(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.cfg.Registry.List())
}

func (s *Server) handleGetSession(rw http.ResponseWriter, r *http.Request) {
	name := r.PathValue("session")
	sess, err := s.cfg.Registry.Get(name)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	for _, info := range s.cfg.Registry.List() {
		if info.Name == name {
			writeJSON(rw, http.StatusOK, info)
			return
		}
	}
	// Listed set changed underneath us; fall back to the live status.
	writeJSON(rw, http.StatusOK, registry.Info{Name: name, Status: sess.Status()})
}

func (s *Server) handleStartSession(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Engine        string `json:"engine"`
		DownloadMedia bool   `json:"downloadMedia"`
	}
	if !decodeBody(rw, r, &req) {
		return
	}
	name := r.PathValue("session")
	sess, err := s.cfg.Registry.Start(r.Context(), name, registry.StartOptions{
		Engine:        req.Engine,
		DownloadMedia: req.DownloadMedia,
	})
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusCreated, registry.Info{Name: name, Engine: req.Engine, Status: sess.Status()})
}

func (s *Server) handleStopSession(rw http.ResponseWriter, r *http.Request) {
	name := r.PathValue("session")
	if err := s.cfg.Registry.Stop(name); err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"name": name, "status": session.StatusStopped})
}

func (s *Server) handleRestartSession(rw http.ResponseWriter, r *http.Request) {
	name := r.PathValue("session")
	sess, err := s.cfg.Registry.Restart(r.Context(), name)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"name": name, "status": sess.Status()})
}

func (s *Server) handleRemoveSession(rw http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Registry.Remove(r.PathValue("session")); err != nil {
		s.writeError(rw, err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

// --- auth artifacts and diagnostics ---

func (s *Server) handleQR(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	challenge := sess.Challenge()
	if challenge == "" {
		writeJSON(rw, http.StatusNotFound, map[string]string{
			"error":  "no pending authentication challenge",
			"status": string(sess.Status()),
		})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"value": challenge})
}

func (s *Server) handleScreenshot(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	img, err := sess.Screenshot(r.Context())
	if err != nil {
		s.writeError(rw, err)
		return
	}
	rw.Header().Set("Content-Type", "image/png")
	rw.Write(img)
}

// --- messaging ---

func (s *Server) handleSendText(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	var req domain.TextRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	res, err := sess.SendText(r.Context(), req)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusCreated, res)
}

func (s *Server) handleReply(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	var req domain.ReplyRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	res, err := sess.Reply(r.Context(), req)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusCreated, res)
}

func (s *Server) handleSendLocation(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	var req domain.LocationRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	res, err := sess.SendLocation(r.Context(), req)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusCreated, res)
}

func (s *Server) handleSendFile(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	var req domain.FileRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	res, err := sess.SendFile(r.Context(), req)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusCreated, res)
}

func (s *Server) handleSendVoice(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	var req domain.FileRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	res, err := sess.SendVoice(r.Context(), req)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusCreated, res)
}

func (s *Server) handleSendVCard(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	var req struct {
		ChatID    string `json:"chatId"`
		ContactID string `json:"contactId"`
	}
	if !decodeBody(rw, r, &req) {
		return
	}
	res, err := sess.SendContactVCard(r.Context(), req.ChatID, req.ContactID)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusCreated, res)
}

func (s *Server) handleSendLinkPreview(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	var req struct {
		ChatID string `json:"chatId"`
		URL    string `json:"url"`
		Title  string `json:"title"`
	}
	if !decodeBody(rw, r, &req) {
		return
	}
	res, err := sess.SendLinkPreview(r.Context(), req.ChatID, req.URL, req.Title)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusCreated, res)
}

func (s *Server) handleSendSeen(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	var req domain.SeenRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	if err := sess.SendSeen(r.Context(), req); err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleReaction(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	var req domain.ReactionRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	if err := sess.SetReaction(r.Context(), req); err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "set"})
}

func (s *Server) handlePresence(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	var req struct {
		Presence string `json:"presence"`
		ChatID   string `json:"chatId"`
	}
	if !decodeBody(rw, r, &req) {
		return
	}
	if err := sess.SetPresence(r.Context(), domain.Presence(req.Presence), req.ChatID); err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "set"})
}

// --- chats ---

func (s *Server) handleChats(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	chats, err := sess.Chats(r.Context())
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, chats)
}

func (s *Server) handleMessages(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	query := domain.MessagesQuery{
		ChatID:        r.PathValue("chat"),
		DownloadMedia: r.URL.Query().Get("downloadMedia") == "true",
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		query.Limit = n
	}
	msgs, err := sess.Messages(r.Context(), query)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, msgs)
}

func (s *Server) handleClearMessages(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	if err := sess.ClearMessages(r.Context(), r.PathValue("chat")); err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleDeleteChat(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	if err := sess.DeleteChat(r.Context(), r.PathValue("chat")); err != nil {
		s.writeError(rw, err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheckNumber(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	phone := r.URL.Query().Get("phone")
	if phone == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "phone query parameter is required"})
		return
	}
	res, err := sess.CheckNumberStatus(r.Context(), domain.NumberStatusQuery{Phone: phone})
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, res)
}

// --- contacts ---

func (s *Server) handleContacts(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	contacts, err := sess.Contacts(r.Context())
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, contacts)
}

func (s *Server) handleContact(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	contact, err := sess.Contact(r.Context(), domain.ContactQuery{ContactID: r.PathValue("contact")})
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, contact)
}

func (s *Server) handleBlock(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	if err := sess.BlockContact(r.Context(), r.PathValue("contact")); err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "blocked"})
}

func (s *Server) handleUnblock(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	if err := sess.UnblockContact(r.Context(), r.PathValue("contact")); err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "unblocked"})
}

// --- groups ---

func (s *Server) handleCreateGroup(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	var req domain.CreateGroupRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	group, err := sess.CreateGroup(r.Context(), req)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusCreated, group)
}

func (s *Server) handleGroups(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	groups, err := sess.Groups(r.Context())
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, groups)
}

func (s *Server) handleGroup(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	group, err := sess.Group(r.Context(), r.PathValue("group"))
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, group)
}

func (s *Server) handleDeleteGroup(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	if err := sess.DeleteGroup(r.Context(), r.PathValue("group")); err != nil {
		s.writeError(rw, err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeaveGroup(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	if err := sess.LeaveGroup(r.Context(), r.PathValue("group")); err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "left"})
}

func (s *Server) handleGroupSubject(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	var req struct {
		Subject string `json:"subject"`
	}
	if !decodeBody(rw, r, &req) {
		return
	}
	if err := sess.SetGroupSubject(r.Context(), r.PathValue("group"), req.Subject); err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleGroupDescription(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	var req struct {
		Description string `json:"description"`
	}
	if !decodeBody(rw, r, &req) {
		return
	}
	if err := sess.SetGroupDescription(r.Context(), r.PathValue("group"), req.Description); err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleInviteCode(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	code, err := sess.InviteCode(r.Context(), r.PathValue("group"))
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"code": code})
}

func (s *Server) handleRevokeInvite(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	code, err := sess.RevokeInviteCode(r.Context(), r.PathValue("group"))
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"code": code})
}

func (s *Server) handleParticipants(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	members, err := sess.Participants(r.Context(), r.PathValue("group"))
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, members)
}

func (s *Server) participantsOp(rw http.ResponseWriter, r *http.Request,
	op func(*session.Session, string, domain.ParticipantsRequest) error) {
	sess := s.sessionFrom(rw, r)
	if sess == nil {
		return
	}
	var req domain.ParticipantsRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	if err := op(sess, r.PathValue("group"), req); err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAddParticipants(rw http.ResponseWriter, r *http.Request) {
	s.participantsOp(rw, r, func(sess *session.Session, id string, req domain.ParticipantsRequest) error {
		return sess.AddParticipants(r.Context(), id, req)
	})
}

func (s *Server) handleRemoveParticipants(rw http.ResponseWriter, r *http.Request) {
	s.participantsOp(rw, r, func(sess *session.Session, id string, req domain.ParticipantsRequest) error {
		return sess.RemoveParticipants(r.Context(), id, req)
	})
}

func (s *Server) handlePromote(rw http.ResponseWriter, r *http.Request) {
	s.participantsOp(rw, r, func(sess *session.Session, id string, req domain.ParticipantsRequest) error {
		return sess.PromoteParticipants(r.Context(), id, req)
	})
}

func (s *Server) handleDemote(rw http.ResponseWriter, r *http.Request) {
	s.participantsOp(rw, r, func(sess *session.Session, id string, req domain.ParticipantsRequest) error {
		return sess.DemoteParticipants(r.Context(), id, req)
	})
}
