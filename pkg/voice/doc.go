// Package voice runs a local voice assistant conversation.
//
// An Assistant chains three local stages: speech recognition (pkg/stt), a
// streamed language model reply (pkg/inference) and speech synthesis
// (pkg/tts). Each turn is recorded in a timeline store so the dashboard can
// show captions and chat in order.
//
// # Usage
//
//	a, err := voice.New(voice.DefaultConfig(), voice.Parts{
//	    STT:      engine,
//	    LLM:      llm,
//	    TTS:      synth,
//	    Sink:     speaker,
//	    Timeline: store,
//	}, voice.Callbacks{
//	    OnTranscript: func(text string) { fmt.Println("user:", text) },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := a.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	a.Greet(ctx)
//
//	// Feed 16 kHz mono PCM16 from a microphone or WebRTC track.
//	a.Listen(ctx, frames)
//
// # Voice activity detection
//
// Listen splits the input with an energy-based Segmenter: 30 ms frames whose
// normalized RMS is above 0.01 count as speech, and 10 silent frames in a
// row end the utterance.
//
// # Latency Metrics
//
// Every turn tracks per-stage latency from the end of the user's speech:
//
//	m := a.Metrics().Current()
//	fmt.Println(m.FormatLatency())
package voice
