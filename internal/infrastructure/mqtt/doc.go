// Package mqtt provides MQTT client connectivity for the Gray Logic HomematicIP bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support and restore on reconnect
//   - Last Will and Testament (LWT) on the bridge health topic
//
// # Architecture
//
// The bridge sits between Gray Logic Core and the HomematicIP cloud:
//
//	Gray Logic Core ↔ MQTT Broker ↔ HmIP bridge ↔ HomematicIP cloud
//
// Commands arrive on graylogic/command/hmip/{entity_id}; state leaves on
// graylogic/state/hmip/{entity_id} as retained messages.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.BridgeCommandSubscription(mqtt.ProtocolHmIP), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
