package fplog

import (
	"strconv"
	"strings"

	"github.com/banshee-data/velocity.report/internal/imu"
	"github.com/banshee-data/velocity.report/internal/packets"
)

// prepareLoggerPackets implements spec.md §4.6's row-construction rule:
// exactly one Logger Data Packet per IMU packet in the batch, carrying the
// shared Context/Servo fields, the IMU packet's own fields (Raw xor
// Estimated), the matching Processor Data Packet for Estimated packets
// taken in order, and apogee packets popped off the front of apogeeBatch
// until exhausted.
func prepareLoggerPackets(
	ctxPkt packets.ContextDataPacket,
	servoPkt packets.ServoDataPacket,
	imuBatch []imu.Packet,
	processorBatch []packets.ProcessorDataPacket,
	apogeeBatch []packets.ApogeePredictorDataPacket,
) []packets.LoggerDataPacket {
	rows := make([]packets.LoggerDataPacket, 0, len(imuBatch))

	procIdx := 0
	apogeeIdx := 0

	for _, p := range imuBatch {
		row := packets.LoggerDataPacket{
			State:                    ctxPkt.State,
			Extension:                servoPkt.SetExtension,
			EncoderPosition:          servoPkt.EncoderPosition,
			FetchedPacketsInMain:     ctxPkt.FetchedPacketsInMain,
			IMUQueueSize:             ctxPkt.IMUQueueSize,
			ApogeePredictorQueueSize: ctxPkt.ApogeePredictorQueueSize,
			FetchedIMUPackets:        ctxPkt.FetchedIMUPackets,
			UpdateTimestampNs:        ctxPkt.UpdateTimestampNs,
		}

		var invalid []string

		switch {
		case p.Raw != nil:
			row.IsRaw = true
			row.IMUTimestampNs = p.Raw.TimestampNs
			row.ScaledAccelX, row.ScaledAccelY, row.ScaledAccelZ = p.Raw.ScaledAccelX, p.Raw.ScaledAccelY, p.Raw.ScaledAccelZ
			row.ScaledGyroX, row.ScaledGyroY, row.ScaledGyroZ = p.Raw.ScaledGyroX, p.Raw.ScaledGyroY, p.Raw.ScaledGyroZ
			row.DeltaVelX, row.DeltaVelY, row.DeltaVelZ = p.Raw.DeltaVelX, p.Raw.DeltaVelY, p.Raw.DeltaVelZ
			row.DeltaThetaX, row.DeltaThetaY, row.DeltaThetaZ = p.Raw.DeltaThetaX, p.Raw.DeltaThetaY, p.Raw.DeltaThetaZ
			row.ScaledAmbientPressure = p.Raw.ScaledAmbientPressure
			invalid = p.Raw.InvalidFields

		case p.Estimated != nil:
			row.IsEstimated = true
			row.IMUTimestampNs = p.Estimated.TimestampNs
			row.EstPressureAlt = p.Estimated.EstPressureAlt
			row.OrientQuatW, row.OrientQuatX, row.OrientQuatY, row.OrientQuatZ =
				p.Estimated.OrientQuatW, p.Estimated.OrientQuatX, p.Estimated.OrientQuatY, p.Estimated.OrientQuatZ
			row.EstAngularRateX, row.EstAngularRateY, row.EstAngularRateZ =
				p.Estimated.EstAngularRateX, p.Estimated.EstAngularRateY, p.Estimated.EstAngularRateZ
			row.EstCompensatedAccelX, row.EstCompensatedAccelY, row.EstCompensatedAccelZ =
				p.Estimated.EstCompensatedAccelX, p.Estimated.EstCompensatedAccelY, p.Estimated.EstCompensatedAccelZ
			row.EstGravityVectorX, row.EstGravityVectorY, row.EstGravityVectorZ =
				p.Estimated.EstGravityVectorX, p.Estimated.EstGravityVectorY, p.Estimated.EstGravityVectorZ
			invalid = p.Estimated.InvalidFields

			if procIdx < len(processorBatch) {
				pp := processorBatch[procIdx]
				row.HasProcessor = true
				row.CurrentAltitude = pp.CurrentAltitude
				row.VerticalVelocity = pp.VerticalVelocity
				row.VerticalAcceleration = pp.VerticalAcceleration
				procIdx++
			}
		}

		if apogeeIdx < len(apogeeBatch) {
			ap := apogeeBatch[apogeeIdx]
			row.HasApogee = true
			row.PredictedApogee = ap.PredictedApogee
			row.ACoefficient = ap.ACoefficient
			row.BCoefficient = ap.BCoefficient
			apogeeIdx++
		}

		row.InvalidFields = strings.Join(invalid, ",")
		rows = append(rows, row)
	}

	return rows
}

func f8(v float64) string { return strconv.FormatFloat(v, 'f', 8, 64) }

// toCSVRow renders a LoggerDataPacket in packets.FieldOrder's exact column
// order, leaving cells empty for whichever variant-specific group does not
// apply to this row.
func toCSVRow(p packets.LoggerDataPacket) []string {
	cells := make([]string, 0, len(packets.FieldOrder))

	cells = append(cells,
		p.State.String(),
		p.Extension.String(),
		strconv.Itoa(p.EncoderPosition),
		strconv.Itoa(p.FetchedPacketsInMain),
		strconv.Itoa(p.IMUQueueSize),
		strconv.Itoa(p.ApogeePredictorQueueSize),
		strconv.Itoa(p.FetchedIMUPackets),
		strconv.FormatInt(p.UpdateTimestampNs, 10),
		strconv.FormatInt(p.IMUTimestampNs, 10),
	)

	if p.IsRaw {
		cells = append(cells,
			f8(p.ScaledAccelX), f8(p.ScaledAccelY), f8(p.ScaledAccelZ),
			f8(p.ScaledGyroX), f8(p.ScaledGyroY), f8(p.ScaledGyroZ),
			f8(p.DeltaVelX), f8(p.DeltaVelY), f8(p.DeltaVelZ),
			f8(p.DeltaThetaX), f8(p.DeltaThetaY), f8(p.DeltaThetaZ),
			f8(p.ScaledAmbientPressure),
		)
	} else {
		cells = append(cells, emptyCells(13)...)
	}

	if p.IsEstimated {
		cells = append(cells,
			f8(p.EstPressureAlt),
			f8(p.OrientQuatW), f8(p.OrientQuatX), f8(p.OrientQuatY), f8(p.OrientQuatZ),
			f8(p.EstAngularRateX), f8(p.EstAngularRateY), f8(p.EstAngularRateZ),
			f8(p.EstCompensatedAccelX), f8(p.EstCompensatedAccelY), f8(p.EstCompensatedAccelZ),
			f8(p.EstGravityVectorX), f8(p.EstGravityVectorY), f8(p.EstGravityVectorZ),
		)
	} else {
		cells = append(cells, emptyCells(14)...)
	}

	if p.HasProcessor {
		cells = append(cells, f8(p.CurrentAltitude), f8(p.VerticalVelocity), f8(p.VerticalAcceleration))
	} else {
		cells = append(cells, emptyCells(3)...)
	}

	if p.HasApogee {
		cells = append(cells, f8(p.PredictedApogee), f8(p.ACoefficient), f8(p.BCoefficient))
	} else {
		cells = append(cells, emptyCells(3)...)
	}

	cells = append(cells, p.InvalidFields)

	return cells
}

func emptyCells(n int) []string {
	return make([]string, n)
}
