// Package extract parses raw upstream bodies into typed merge fragments. Every
// function is pure; a body that parses but carries no usable record yields an
// absent fragment, while an unparseable body yields ErrMalformed.
package extract
