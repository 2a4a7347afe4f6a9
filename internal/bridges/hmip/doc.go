// Package hmip connects the HomematicIP light platform to the Gray Logic
// MQTT bridge interface.
//
// The bridge speaks the same message set as every other Gray Logic bridge:
//
//	graylogic/command/hmip/{entity_id}   Core -> bridge   CommandMessage
//	graylogic/ack/hmip/{entity_id}       bridge -> Core   AckMessage
//	graylogic/state/hmip/{entity_id}     bridge -> Core   StateMessage (retained, empty once removed)
//	graylogic/request/hmip/{request_id}  Core -> bridge   RequestMessage
//	graylogic/response/hmip/{request_id} bridge -> Core   ResponseMessage
//	graylogic/health/hmip                bridge -> Core   HealthMessage (retained)
//
// Commands are turned into light service calls and executed by the light
// dispatcher. Every entity state change published to the registry is
// mirrored to MQTT, and power-measuring lights additionally feed their
// consumption into InfluxDB.
package hmip
