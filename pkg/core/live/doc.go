// Package live manages real-time voice conversations with a remote model.
//
// A Session owns at most one conversation at a time. Each conversation is a
// bundle of exclusively owned resources (microphone stream, capture node,
// input and output audio contexts, scheduled playback, outbound sender and the
// transport stream) that is built on Connect and torn down exactly once.
//
// # State Machine
//
//	IDLE → CONNECTING → CONNECTED → IDLE   (Disconnect or server close)
//	            │            │
//	            └────────────┴──→ ERROR    (microphone, setup or transport failure)
//
// Connect is a no-op while a conversation is active. Disconnect is idempotent
// and always leaves the session IDLE.
//
// # Data Flow
//
//	Microphone → InputContext (4096-sample blocks) → RMS → OnVolumeChange
//	                                              └→ Encode → send queue → Stream.Send
//
//	Stream → OnMessage → transcripts → OnTranscription
//	                  └→ base64 → Decode → OutputContext.Schedule(at nextPlaybackTime)
//
// Playback is gap-free: every chunk starts at max(nextPlaybackTime, clock) and
// advances nextPlaybackTime by its duration. An interruption stops everything
// that is scheduled and resets nextPlaybackTime to zero.
//
// # Usage
//
//	sess := live.NewSession(live.DefaultConfig(), live.Deps{
//	    Transport: transport,
//	    Devices:   devices,
//	}, live.Handler{
//	    OnStatusChange: func(s live.Status, details string) { fmt.Println(s, details) },
//	    OnTranscription: func(text string, role live.Role) { fmt.Println(role, text) },
//	})
//	if err := sess.Connect(ctx); err != nil {
//	    log.Println(err)
//	}
//	defer sess.Disconnect()
package live
