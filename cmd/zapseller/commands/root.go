// Package commands implementa os comandos CLI do ZapSeller usando cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd cria o comando raiz do CLI com todos os subcomandos registrados.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "zapseller",
		Short: "ZapSeller - WhatsApp sales assistant",
		Long: `ZapSeller is an automated sales assistant for WhatsApp.
It classifies customers by intent, tracks per-customer carts, and answers
with LLM-generated sales replies grounded on your catalog.

Examples:
  zapseller serve
  zapseller serve --config ./config.yaml
  zapseller config set-key`,
		Version: version,
	}

	// Registra subcomandos.
	rootCmd.AddCommand(
		newServeCmd(),
		newConfigCmd(),
		newLogoutCmd(),
	)

	// Flags globais.
	rootCmd.PersistentFlags().StringP("config", "c", "", "caminho para o arquivo de configuração")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "habilita logs detalhados")

	return rootCmd
}
