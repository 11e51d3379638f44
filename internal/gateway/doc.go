// Package gateway holds the request pipeline of a musiphone node: the
// middlewares that admit catalog mutations, resolve which song a media
// request names, coalesce near-duplicate submissions, and the handlers
// that stream audio and cover art.
//
// # Pipelines
//
// Handlers are composed with Chain. The server wires them as:
//
//	POST   /songs          NetworkAccess → SongAdditionControl → RequestQueueSong → add
//	DELETE /songs          NetworkAccess → SongRemovalControl → remove
//	GET    /audio/{hash}   NetworkAccess → FileAccess → Audio
//	GET    /cover/{hash}   NetworkAccess → FileAccess → Cover
//
// Middlewares pass what they learn down the chain on the request context:
// ClientAddress after NetworkAccess, DocumentFrom after FileAccess or
// SongRemovalControl.
//
// # Admission
//
// Decide is the pure admission rule. Additions from this node, from a
// trusted peer, or without the "controlled" flag proceed; everything else
// blocks on the approval workflow. Removals block only when the targeted
// document has priority 1 or more.
//
// # Streaming
//
// Audio honours a single byte range (see ParseRange). A malformed or
// unsatisfiable Range header is not an error: the whole file is sent with
// 200. A request carrying the storacle-cache-check header is a probe and
// gets a bare 200 or 404 depending on whether its "f" hash matches the
// resolved document.
//
// # Errors
//
// Every failure goes through WriteError, which maps error kinds to status
// codes (see StatusCode). Not-found answers carry no body. Once a body has
// started, failures abort the connection instead.
package gateway
