// Package conversation tracks multi-message exchanges between paired
// devices: one State per conversation, an Engine that creates states on
// behalf of the local device, and a Dispatcher that routes decoded messages
// to the state they belong to.
//
// A conversation walks a fixed stage sequence for its protocol and ends in
// DoneSuccess or DoneFailure. Terminal states never accept another message.
// Each state holds at most one pending outbound message; the caller drains
// it with TakeNextMessageToSend (consume-once) and delivers it however it
// likes. A state may queue its final message and turn terminal in the same
// step, so callers drain even terminal states.
//
// Local conversations start in two steps: Engine.StartConversation returns
// a NotStarted state, and the state's Begin method supplies the inputs for
// the opening message and activates it. Remote conversations enter through
// Engine.AdmitIfStarting, which accepts only conversation-initiating kinds
// and returns a ready responder state, with the response already queued
// when the engine can build it from local identity alone. Responders that
// need externally stored data (held shares) park in Active until the
// application supplies it.
//
// The package performs no I/O, takes no locks and reads no clocks inside
// states; randomness and counters are injected through the Engine config.
// States are not safe for concurrent use. Callers serialize all calls for a
// given conversation, which in practice means driving the whole engine from
// a single loop. Staleness is equally the caller's problem: nothing here
// times out on its own, and Dispatcher.PruneIdle only runs when called.
package conversation
