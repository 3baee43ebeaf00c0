// Package tlsroots builds client TLS configurations for outbound broker
// connections.
//
// Trust starts from the system pool unless a private CA bundle replaces it.
// A certificate and key pair, when both are given, enable mutual TLS.
package tlsroots
