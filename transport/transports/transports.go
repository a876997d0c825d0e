// Package transports registers every bundled transport with the default
// registry. Import it for its side effects.
package transports

import (
	_ "github.com/drblury/viewbridge/transport/aws"
	_ "github.com/drblury/viewbridge/transport/channel"
	_ "github.com/drblury/viewbridge/transport/http"
	_ "github.com/drblury/viewbridge/transport/kafka"
	_ "github.com/drblury/viewbridge/transport/nats"
	_ "github.com/drblury/viewbridge/transport/rabbitmq"
)
