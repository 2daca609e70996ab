// Package signin verifies that a visiting user controls an identity, given
// nothing but the URL or email address they claim.
//
// An Auth holds an ordered list of handlers, each implementing one sign-in
// protocol. Asking it to Match an identity finds the first handler that
// recognises it, by its text alone when possible, otherwise by fetching it
// as a URL and letting each handler inspect the page:
//
//	auth := signin.New(indieAuthHandler, emailHandler)
//
//	handler, id, idURL := auth.Match("https://me.example.com/")
//	if handler == nil {
//		// nobody knows how to sign this identity in
//	}
//
// The handler then runs the protocol through two operations. InitiateAuth
// starts an attempt, given the identity and the URL the user should land
// back on; CheckCallback completes it when they do. Both report what should
// happen next as a Disposition: Redirect the browser somewhere, treat the
// user as Verified, Notify them to go check a message, or show an Error.
// The id from Match names the handler in the callback URL so the landing
// request can be routed back with Handler(id).
//
// Protocol handlers live in the indieauth and email subpackages, and the
// sessions subpackage wires everything to cookie-based http glue if you do
// not want to write your own.
//
// # Stores
//
// The short-lived state the protocols need is kept in TimedStores, bounded
// in-memory maps whose entries expire. A pending transaction or a
// discovered endpoint lives there until its lifetime runs out. Nothing is
// persisted; restarting the process signs everybody out of half-finished
// attempts and nothing else.
//
// # Further reading
//
//   - https://indieauth.spec.indieweb.org/
//   - https://webfinger.net
package signin
