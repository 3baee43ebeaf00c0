// Package influxdb records accepted device readings as InfluxDB points.
//
// Temperatures are written to the device_temperature measurement and image
// uploads to device_image (size only), both tagged with owner, dev_id and
// device. Writes go through the non-blocking WriteAPI and are batched by
// the client; asynchronous write failures are logged and counted in
// iotmesh_sink_errors_total{sink="influxdb"}.
package influxdb
