package db

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/siphog/internal/siphog"
)

// sqlFloat maps non-finite values to NULL, which is what SQLite would store
// for NaN anyway.
func sqlFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromSQLFloat(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// RecordSample stores the persisted subset of one sample.
func (db *DB) RecordSample(s siphog.Sample) error {
	_, err := db.Exec(
		`INSERT INTO samples (
			counter, time_s, status, sled_current_ma, sled_temp_c, tec_current_ma,
			photo_current_ua, sag_power_v, target_sag_power_v, sld_power_uw,
			case_temp_c, op_amp_temp_c, supply_voltage_v, adc_count_i, adc_count_q
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Counter, s.TimeSeconds, s.Status,
		sqlFloat(s.SledCurrentMA), sqlFloat(s.SledTempC), sqlFloat(s.TecCurrentMA),
		sqlFloat(s.PhotoCurrentUA), sqlFloat(s.SagPowerV), sqlFloat(s.TargetSagPowerV),
		sqlFloat(s.SldPowerUW), sqlFloat(s.CaseTempC), sqlFloat(s.OpAmpTempC),
		sqlFloat(s.SupplyVoltageV), sqlFloat(s.ADCCountI), sqlFloat(s.ADCCountQ),
	)
	if err != nil {
		return fmt.Errorf("failed to record sample %d: %w", s.Counter, err)
	}
	return nil
}

// RecentSamples returns up to limit samples, newest first.
func (db *DB) RecentSamples(limit int) ([]siphog.Sample, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT counter, time_s, status, sled_current_ma, sled_temp_c,
			tec_current_ma, photo_current_ua, sag_power_v, target_sag_power_v, sld_power_uw,
			case_temp_c, op_amp_temp_c, supply_voltage_v, adc_count_i, adc_count_q
		FROM samples ORDER BY sample_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []siphog.Sample
	for rows.Next() {
		var s siphog.Sample
		var sledCurrent, sledTemp, tecCurrent, photoCurrent, sagPower, targetSag sql.NullFloat64
		var sldPower, caseTemp, opAmpTemp, supplyVoltage, adcCountI, adcCountQ sql.NullFloat64
		if err := rows.Scan(
			&s.Counter, &s.TimeSeconds, &s.Status,
			&sledCurrent, &sledTemp, &tecCurrent,
			&photoCurrent, &sagPower, &targetSag,
			&sldPower, &caseTemp, &opAmpTemp,
			&supplyVoltage, &adcCountI, &adcCountQ,
		); err != nil {
			return nil, err
		}
		s.SledCurrentMA = fromSQLFloat(sledCurrent)
		s.SledTempC = fromSQLFloat(sledTemp)
		s.TecCurrentMA = fromSQLFloat(tecCurrent)
		s.PhotoCurrentUA = fromSQLFloat(photoCurrent)
		s.SagPowerV = fromSQLFloat(sagPower)
		s.TargetSagPowerV = fromSQLFloat(targetSag)
		s.SldPowerUW = fromSQLFloat(sldPower)
		s.CaseTempC = fromSQLFloat(caseTemp)
		s.OpAmpTempC = fromSQLFloat(opAmpTemp)
		s.SupplyVoltageV = fromSQLFloat(supplyVoltage)
		s.ADCCountI = fromSQLFloat(adcCountI)
		s.ADCCountQ = fromSQLFloat(adcCountQ)
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// SampleCount returns the number of stored samples.
func (db *DB) SampleCount() (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM samples`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CommandRecord is one logged outbound packet.
type CommandRecord struct {
	MsgType   byte
	PacketHex string
	Error     string
	SentAt    time.Time
}

// RecordCommand logs an outbound packet and the error its write returned,
// if any.
func (db *DB) RecordCommand(p siphog.Packet, sendErr error) error {
	var errText sql.NullString
	if sendErr != nil {
		errText = sql.NullString{String: sendErr.Error(), Valid: true}
	}
	_, err := db.Exec(
		`INSERT INTO commands (msg_type, packet_hex, error) VALUES (?, ?, ?)`,
		p.Type(), p.String(), errText,
	)
	if err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}
	return nil
}

// RecentCommands returns up to limit logged commands, newest first.
func (db *DB) RecentCommands(limit int) ([]CommandRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT msg_type, packet_hex, error, CAST(strftime('%s', sent_at) AS INTEGER)
		FROM commands ORDER BY command_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRecord
	for rows.Next() {
		var (
			rec     CommandRecord
			errText sql.NullString
			sentAt  int64
		)
		if err := rows.Scan(&rec.MsgType, &rec.PacketHex, &errText, &sentAt); err != nil {
			return nil, err
		}
		rec.Error = errText.String
		rec.SentAt = time.Unix(sentAt, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
