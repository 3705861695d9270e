package logger

import "testing"

func TestOperationFromSQL(t *testing.T) {
	cases := map[string]string{
		"SELECT * FROM platform_invoices":                      "SELECT",
		"  update payment_transactions set status = $1":        "UPDATE",
		"WITH paid AS (SELECT 1) DELETE FROM commissions":      "DELETE",
		"INSERT INTO notifications (id) VALUES (1)":            "INSERT",
		"SELECT set_config('app.current_tenant_id', $1, true)": "SELECT",
		"":                                                     "UNKNOWN",
		"VACUUM x":                                             "UNKNOWN",
	}
	for sql, want := range cases {
		if got := operationFromSQL(sql); got != want {
			t.Fatalf("operationFromSQL(%q) = %q, want %q", sql, got, want)
		}
	}
}
