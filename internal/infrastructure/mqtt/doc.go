// Package mqtt provides the MQTT bus connection for the RFM gateway.
//
// The package manages:
//   - A paho client with clean sessions and optional TLS
//   - Single-shot (re)connection driven by the caller
//   - Publishing and wildcard subscriptions with panic-safe handlers
//   - A retained Last Will so subscribers notice a crashed gateway
//
// # Reconnection
//
// Paho's own auto-reconnect is disabled. The gateway's supervisor polls
// IsConnected once per loop tick; when the link is down it calls
// Reconnect at a fixed interval until it succeeds and then subscribes
// exactly once. Subscriptions are therefore forgotten when the link drops.
//
// # Usage
//
//	client := mqtt.NewClient(cfg.MQTT, &mqtt.Will{
//	    Topic:    "home/rfm_gw/nb/node01/dev99",
//	    Payload:  "NODE 1 OFFLINE",
//	    Retained: true,
//	})
//	if err := client.Reconnect(); err != nil {
//	    // retry later
//	}
//	defer client.Close()
//
//	client.Subscribe("home/rfm_gw/sb/#", 0, func(topic string, payload []byte) error {
//	    inbound <- msg{topic, payload}
//	    return nil
//	})
package mqtt
