// Package serialization provides optional compression of published message
// bodies. The selected compressor's encoding is carried in the AMQP
// content-encoding property so consumers can reverse it.
package serialization
