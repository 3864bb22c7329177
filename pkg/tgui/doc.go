// Package tgui renders Telegram HTML messages: escaping helpers and a
// line builder that produces text plus send options.
package tgui
