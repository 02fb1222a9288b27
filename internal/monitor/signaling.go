package monitor

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
)

// offerRequest/offerResponse are the minimal WHIP-like SDP exchange: POST
// an offer, get back an answer. No trickle ICE signaling channel — the
// monitor waits for gathering to complete before replying, trading a
// little connect latency for a single round trip.
type offerRequest struct {
	SDP string `json:"sdp" binding:"required"`
}

type offerResponse struct {
	SDP string `json:"sdp"`
}

// RegisterRoutes attaches the monitor's signaling endpoint to an existing
// gin engine, following the teacher's HealthCheckRoutes shape of a
// dedicated unnamed route group registered directly on the engine.
func RegisterRoutes(engine *gin.Engine, bridge *Bridge) {
	group := engine.Group("")
	group.POST("/monitor/offer/", func(c *gin.Context) { handleOffer(c, bridge) })
}

func handleOffer(c *gin.Context, bridge *Bridge) {
	var req offerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pc, err := bridge.NewPeerConnection()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  req.SDP,
	}); err != nil {
		pc.Close()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	select {
	case <-gatherComplete:
	case <-time.After(5 * time.Second):
	}

	c.JSON(http.StatusOK, offerResponse{SDP: pc.LocalDescription().SDP})
}
