package server

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/inspectyard/internal/inbound"
	"github.com/zulandar/inspectyard/internal/notify/twilio"
)

// emptyTwiML acknowledges a Twilio webhook without sending a reply through
// it; replies go out through the outbox instead.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// handleInbound receives an agent's WhatsApp reply. Twilio posts it as a
// form with From, Body and MessageSid. A reply that failed to process gets
// a 500 so the delivery can be retried.
func handleInbound(opts *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		sender := twilio.Address(c.PostForm("From"))
		if sender == "" {
			c.String(http.StatusBadRequest, "missing From")
			return
		}
		out := opts.Router.Handle(c.Request.Context(), inbound.Message{
			Sender:    sender,
			Text:      c.PostForm("Body"),
			MessageID: c.PostForm("MessageSid"),
		})
		log.Printf("server: %s from %s: %s %s", out.Command, sender, out.Result, out.JobID)
		if out.Result == inbound.ResultFailed {
			c.String(http.StatusInternalServerError, "processing failed")
			return
		}
		c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(emptyTwiML))
	}
}

// handleDeliveryStatus records Twilio's delivery status callback against
// the notification log.
func handleDeliveryStatus(opts *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid, status := c.PostForm("MessageSid"), c.PostForm("MessageStatus")
		if sid == "" || status == "" {
			badRequest(c, "MessageSid and MessageStatus are required")
			return
		}
		updated, err := opts.Outbox.UpdateStatus(c.Request.Context(), sid, status)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"updated": updated})
	}
}
