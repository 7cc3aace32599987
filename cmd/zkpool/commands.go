package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/cache"
	"github.com/kysee/zkpool/zk-pool/config"
	"github.com/kysee/zkpool/zk-pool/prover"
	"github.com/kysee/zkpool/zk-pool/relayer"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/spf13/cobra"
)

const decimals = 18

func keygenCmd() *cobra.Command {
	var signature string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a shielded key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp := types.NewRandomKeyPair()
			if signature != "" {
				sig, err := hex.DecodeString(trim0x(signature))
				if err != nil {
					return fmt.Errorf("signature: %w", err)
				}
				kp = types.KeyPairFromSignature(sig)
			}
			priv, _ := kp.PrivateKey()
			fmt.Fprintf(cmd.OutOrStdout(), "private key: %s\naddress:     %s\n", utils.ElementHex(priv), kp.Address())
			return nil
		},
	}
	cmd.Flags().StringVar(&signature, "from-signature", "", "derive the key from a wallet signature (hex)")
	return cmd
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func setupCmd(flags *globalFlags) *cobra.Command {
	var levels int
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Compile the transaction circuits and write their keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if levels == 0 {
				levels = config.DefaultLevels
			}
			for _, n := range []int{prover.SmallInputs, prover.LargeInputs} {
				start := time.Now()
				keys, err := prover.Setup(levels, n)
				if err != nil {
					return fmt.Errorf("setup %d inputs: %w", n, err)
				}
				path, err := keys.Write(cfg.Circuits.Dir, fmt.Sprintf("transaction%d", n))
				if err != nil {
					return err
				}
				log.Info().Int("inputs", n).Int("levels", levels).Int("constraints", keys.CCS.GetNbConstraints()).
					Str("zkey", path.ZKey).Dur("took", time.Since(start)).Msg("circuit ready")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&levels, "levels", 0, "merkle tree height")
	return cmd
}

func eventsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Pool event logs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "update",
		Short: "Fetch new commitment and nullifier events into the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer e.Close()
			log, err := e.syncer.Commitments(cmd.Context())
			if err != nil {
				return err
			}
			nullifiers, err := e.syncer.Nullifiers(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d commitments, %d nullifiers\n", e.instance.Token, log.Len(), nullifiers.Len())
			return nil
		},
	})
	return cmd
}

func treeCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Cached commitment tree",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "update",
		Short: "Publish tree slices and the bloom filter for the current log",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer e.Close()
			log, err := e.syncer.Commitments(cmd.Context())
			if err != nil {
				return err
			}
			tree, err := e.trees.Publish(cache.NewWriter(e.cfg.Cache.Dir, e.log), log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d leaves, root %s\n", e.instance.Token, tree.Len(), utils.ElementHex(tree.Root()))
			return nil
		},
	})
	return cmd
}

func balanceCmd(flags *globalFlags) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the shielded balance of a key",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := shieldedKey(key)
			if err != nil {
				return err
			}
			e, err := openEnv(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer e.Close()
			log, err := e.syncer.Commitments(cmd.Context())
			if err != nil {
				return err
			}
			notes, err := e.scanner.UnspentNotes(cmd.Context(), kp, log)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, u := range notes {
				idx, _ := u.LeafIndex()
				fmt.Fprintf(out, "  leaf %-8d %s\n", idx, formatUnits(u.Amount(), decimals))
			}
			fmt.Fprintf(out, "%s %s in %d notes\n", formatUnits(types.SumAmounts(notes), decimals), e.instance.Token, len(notes))
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "shielded private key")
	return cmd
}

func depositCmd(flags *globalFlags) *cobra.Command {
	var key, ethKey, amount, to string
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit tokens into the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			value, err := parseUnits(amount, decimals)
			if err != nil {
				return err
			}
			spender, err := shieldedKey(key)
			if err != nil {
				return err
			}
			account, err := accountKey(ethKey)
			if err != nil {
				return err
			}
			e, err := openEnv(ctx, flags)
			if err != nil {
				return err
			}
			defer e.Close()

			receiver := spender
			if to != "" {
				if receiver, err = e.receiver(ctx, to); err != nil {
					return err
				}
			}
			tx, err := e.builder().PrepareDeposit(ctx, prover.DepositRequest{Amount: value, Spender: spender, Receiver: receiver})
			if err != nil {
				return err
			}
			hash, err := e.pool.Submit(ctx, account, tx, tx.ExternalAmount())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash.Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "shielded private key")
	cmd.Flags().StringVar(&ethKey, "eth-key", "", "account private key paying the deposit")
	cmd.Flags().StringVar(&amount, "amount", "", "amount in token units")
	cmd.Flags().StringVar(&to, "to", "", "shielded or registered account address of the receiver (default: self)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

type spendFlags struct {
	key, ethKey, amount, fee string
	relayer                  string
	relay                    bool
}

func (f *spendFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.key, "key", "", "shielded private key")
	cmd.Flags().StringVar(&f.ethKey, "eth-key", "", "account private key sending the transaction when not relayed")
	cmd.Flags().StringVar(&f.amount, "amount", "", "amount in token units")
	cmd.Flags().StringVar(&f.fee, "fee", "0", "relayer fee in token units")
	cmd.Flags().StringVar(&f.relayer, "relayer", "", "relayer reward address")
	cmd.Flags().BoolVar(&f.relay, "relay", false, "submit through the configured relayer")
	_ = cmd.MarkFlagRequired("amount")
}

func (f *spendFlags) parse() (amount, fee *uint256.Int, spender *types.KeyPair, err error) {
	if amount, err = parseUnits(f.amount, decimals); err != nil {
		return
	}
	if fee, err = parseUnits(f.fee, decimals); err != nil {
		return
	}
	spender, err = shieldedKey(f.key)
	return
}

// submit relays tx and waits for the job, or sends it from the account key.
func (f *spendFlags) submit(cmd *cobra.Command, e *env, tx *types.Transaction) error {
	ctx := cmd.Context()
	if f.relay {
		rc, err := e.relayer()
		if err != nil {
			return err
		}
		id, err := rc.Relay(ctx, tx.Kind, relayer.NewRelayRequest(e.chain.ChainID, e.pool.Address(), tx))
		if err != nil {
			return err
		}
		job, err := rc.Wait(ctx, id, 4*time.Second)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), job.TxHash.Hex())
		return nil
	}
	account, err := accountKey(f.ethKey)
	if err != nil {
		return err
	}
	hash, err := e.pool.Submit(ctx, account, tx, nil)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash.Hex())
	return nil
}

func withdrawCmd(flags *globalFlags) *cobra.Command {
	var f spendFlags
	var recipient string
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw tokens from the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, fee, spender, err := f.parse()
			if err != nil {
				return err
			}
			if !common.IsHexAddress(recipient) {
				return fmt.Errorf("%w: %q is not a hex account address", types.ErrInvalidRecipient, recipient)
			}
			e, err := openEnv(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer e.Close()
			tx, err := e.builder().PrepareWithdraw(cmd.Context(), prover.WithdrawRequest{
				Amount:    amount,
				Spender:   spender,
				Recipient: common.HexToAddress(recipient),
				Relayer:   common.HexToAddress(f.relayer),
				Fee:       fee,
			})
			if err != nil {
				return err
			}
			return f.submit(cmd, e, tx)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&recipient, "recipient", "", "account receiving the tokens")
	_ = cmd.MarkFlagRequired("recipient")
	return cmd
}

func transferCmd(flags *globalFlags) *cobra.Command {
	var f spendFlags
	var to string
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Transfer shielded tokens to another key",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, fee, spender, err := f.parse()
			if err != nil {
				return err
			}
			e, err := openEnv(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer e.Close()
			receiver, err := e.receiver(cmd.Context(), to)
			if err != nil {
				return err
			}
			tx, err := e.builder().PrepareTransfer(cmd.Context(), prover.TransferRequest{
				Amount:   amount,
				Spender:  spender,
				Receiver: receiver,
				Relayer:  common.HexToAddress(f.relayer),
				Fee:      fee,
			})
			if err != nil {
				return err
			}
			return f.submit(cmd, e, tx)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&to, "to", "", "shielded or registered account address of the receiver")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func relayerCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relayer",
		Short: "Relayer service",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the relayer status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(flags)
			if err != nil {
				return err
			}
			ch := &config.ChainConfig{}
			if len(cfg.Chains) > 0 {
				ch = &cfg.Chains[0]
			}
			if flags.chainID != 0 {
				if ch, err = cfg.Chain(flags.chainID); err != nil {
					return err
				}
			}
			if ch.Relayer == "" {
				return fmt.Errorf("no relayer configured")
			}
			st, err := relayer.NewClient(ch.Relayer, log).Status(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	})
	return cmd
}
