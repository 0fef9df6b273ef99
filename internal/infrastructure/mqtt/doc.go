// Package mqtt connects graycast to the Gray Logic MQTT bus.
//
// The automation engine never talks to receivers directly. It publishes
// commands and requests on per-device topics and listens for acks, state
// and health:
//
//	Automation engine ↔ MQTT broker ↔ graycast ↔ cast receivers
//
// Topics follow the flat bridge scheme graylogic/{category}/chromecast/{id}
// (see Topics). The health topic doubles as the Last Will and Testament, so
// subscribers learn about a crashed graycast from the broker.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
//
// TLS is used when broker.tls is set; payloads are otherwise plain JSON.
package mqtt
