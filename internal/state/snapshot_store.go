package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// FundSnapshot is one observation of a fund's accounting state.
type FundSnapshot struct {
	SnapshotID        int64     `json:"snapshot_id"`
	Timestamp         time.Time `json:"timestamp"`
	VaultAddress      string    `json:"vault_address"`
	ComptrollerAddr   string    `json:"comptroller_address"`
	DenominationAsset string    `json:"denomination_asset"`
	Gav               string    `json:"gav"`
	SharesSupply      string    `json:"shares_supply"`
	SharePrice        float64   `json:"share_price"`
	TrackedAssets     []string  `json:"tracked_assets"`
	ExternalPositions []string  `json:"external_positions"`
}

// ProtocolFeePayment is one recorded protocol fee settlement.
type ProtocolFeePayment struct {
	PaymentID         int64     `json:"payment_id"`
	PaidAt            time.Time `json:"paid_at"`
	VaultAddress      string    `json:"vault_address"`
	SharesMinted      string    `json:"shares_minted"`
	SharesSupplyAfter string    `json:"shares_supply_after"`
}

// SaveFundSnapshot persists a fund snapshot and returns its ID.
func SaveFundSnapshot(snapshot FundSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	trackedJSON, err := json.Marshal(snapshot.TrackedAssets)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal tracked_assets: %w", err)
	}
	positionsJSON, err := json.Marshal(snapshot.ExternalPositions)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal external_positions: %w", err)
	}

	query := `
		INSERT INTO fund_snapshots (
			snapshot_timestamp, vault_address, comptroller_address,
			denomination_asset, gav, shares_supply, share_price,
			tracked_assets, external_positions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRow(
		query,
		snapshot.Timestamp, snapshot.VaultAddress, snapshot.ComptrollerAddr,
		snapshot.DenominationAsset, snapshot.Gav, snapshot.SharesSupply, snapshot.SharePrice,
		trackedJSON, positionsJSON,
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to save fund snapshot: %w", err)
	}

	log.Debug().
		Int64("snapshot_id", snapshotID).
		Str("vault", snapshot.VaultAddress).
		Float64("share_price", snapshot.SharePrice).
		Msg("Fund snapshot saved to database")
	return snapshotID, nil
}

// GetRecentSnapshots returns the newest snapshots for a vault, newest first.
func GetRecentSnapshots(vaultAddress string, limit int) ([]FundSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT snapshot_id, snapshot_timestamp, vault_address, comptroller_address,
			denomination_asset, gav, shares_supply, share_price,
			tracked_assets, external_positions
		FROM fund_snapshots
		WHERE vault_address = $1
		ORDER BY snapshot_timestamp DESC
		LIMIT $2;
	`
	rows, err := DB.Query(query, vaultAddress, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fund snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []FundSnapshot
	for rows.Next() {
		var snap FundSnapshot
		var trackedJSON, positionsJSON []byte
		err := rows.Scan(
			&snap.SnapshotID, &snap.Timestamp, &snap.VaultAddress, &snap.ComptrollerAddr,
			&snap.DenominationAsset, &snap.Gav, &snap.SharesSupply, &snap.SharePrice,
			&trackedJSON, &positionsJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fund snapshot: %w", err)
		}
		if len(trackedJSON) > 0 {
			if err := json.Unmarshal(trackedJSON, &snap.TrackedAssets); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tracked_assets: %w", err)
			}
		}
		if len(positionsJSON) > 0 {
			if err := json.Unmarshal(positionsJSON, &snap.ExternalPositions); err != nil {
				return nil, fmt.Errorf("failed to unmarshal external_positions: %w", err)
			}
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// RecordProtocolFeePayment persists one protocol fee settlement.
func RecordProtocolFeePayment(payment ProtocolFeePayment) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO protocol_fee_payments (paid_at, vault_address, shares_minted, shares_supply_after)
		VALUES ($1, $2, $3, $4);
	`
	_, err := DB.Exec(query, payment.PaidAt, payment.VaultAddress, payment.SharesMinted, payment.SharesSupplyAfter)
	if err != nil {
		return fmt.Errorf("failed to record protocol fee payment: %w", err)
	}
	return nil
}

// GetProtocolFeePayments returns a vault's fee settlements, newest first.
func GetProtocolFeePayments(vaultAddress string, limit int) ([]ProtocolFeePayment, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT payment_id, paid_at, vault_address, shares_minted, shares_supply_after
		FROM protocol_fee_payments
		WHERE vault_address = $1
		ORDER BY paid_at DESC
		LIMIT $2;
	`
	rows, err := DB.Query(query, vaultAddress, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query protocol fee payments: %w", err)
	}
	defer rows.Close()

	var payments []ProtocolFeePayment
	for rows.Next() {
		var payment ProtocolFeePayment
		err := rows.Scan(&payment.PaymentID, &payment.PaidAt, &payment.VaultAddress,
			&payment.SharesMinted, &payment.SharesSupplyAfter)
		if err != nil {
			return nil, fmt.Errorf("failed to scan protocol fee payment: %w", err)
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}
